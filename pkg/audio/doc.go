// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Block, EncodedBlock, PlaybackBuffer and sample conversion
// Package audio provides the fundamental audio types shared by the capture
// and playback pipelines.
//
// This package defines:
//   - Block: a fixed-size chunk of 16 kHz mono capture samples
//   - EncodedBlock: a block packed as base64 PCM16 for transport
//   - PlaybackBuffer: decoded 24 kHz mono speech with its duration
//
// It also provides float ⇄ int16 sample conversion and the Volume meter.
//
// Example:
//
//	v := audio.Volume(block.Samples) // RMS × 5
//	s := audio.SampleToInt16(0.25)   // scale-and-clamp
package audio
