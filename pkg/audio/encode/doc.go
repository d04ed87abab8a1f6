// ABOUTME: Audio encoder package for packing capture audio for transport
// ABOUTME: Provides the PCM16 encoder and the base64 text encoding
// Package encode packs captured float samples for the speech backend.
//
// Samples are scaled by 32767, clamped to the int16 range and written
// little-endian; the bytes are then base64 encoded so they can be
// embedded in a JSON message.
//
// Example:
//
//	encoder, err := encode.NewPCM(audio.CaptureFormat)
//	block, err := encode.Block(encoder, audio.Block{Seq: 0, Samples: samples})
//	session.Send(block)
package encode
