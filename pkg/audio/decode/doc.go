// ABOUTME: Audio decoder package for inbound speech payloads
// ABOUTME: Provides the Decoder interface and the base64 PCM16 implementation
// Package decode converts speech payloads received from the backend into
// playback buffers.
//
// Payloads are base64 text wrapping 16-bit little-endian PCM, mono,
// at 24 kHz. Each payload is independently decodable.
//
// Example:
//
//	decoder, err := decode.NewPCM(audio.PlaybackFormat)
//	buf, err := decoder.Decode(payload)
//	fmt.Println(buf.Duration())
package decode
