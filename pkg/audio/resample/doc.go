// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts capture audio between sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation and keeps the last input frame between calls,
// so a device callback stream can be converted chunk by chunk.
//
// Example:
//
//	r := resample.New(48000, audio.CaptureSampleRate, 1)
//	out := r.Resample(deviceFrames)
package resample
