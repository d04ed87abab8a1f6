// ABOUTME: Audio capture package for microphone input
// ABOUTME: Provides capture devices and the block encoder feeding the transport
// Package capture acquires microphone audio and slices it into encoded
// blocks.
//
// Devices: malgo (default), PortAudio when built with -tags portaudio, and
// a synthetic 440 Hz tone for headless runs.
//
// Example:
//
//	dev, _ := capture.NewDevice(capture.DeviceMalgo)
//	stream, err := dev.Open(capture.DefaultConfig())
//	codec, _ := encode.NewPCM(audio.CaptureFormat)
//	enc := capture.NewEncoder(codec, func(b audio.EncodedBlock) { session.Send(b) })
//	err = enc.Start(stream)
//	defer enc.Stop()
package capture
