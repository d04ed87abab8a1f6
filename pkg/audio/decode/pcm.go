// ABOUTME: PCM16 payload decoder
// ABOUTME: Decodes base64 16-bit PCM payloads to float playback buffers
package decode

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
)

// ErrEmptyPayload is returned for payloads that carry no samples
var ErrEmptyPayload = errors.New("empty audio payload")

// PCMDecoder decodes base64 PCM16 payloads
type PCMDecoder struct {
	format audio.Format
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (Decoder, error) {
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", format.SampleRate)
	}
	if format.Channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", format.Channels)
	}

	return &PCMDecoder{
		format: format,
	}, nil
}

// Decode converts a base64 payload to a playback buffer
func (d *PCMDecoder) Decode(payload string) (audio.PlaybackBuffer, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return audio.PlaybackBuffer{}, fmt.Errorf("invalid base64 payload: %w", err)
	}

	samples, err := PCM16(data)
	if err != nil {
		return audio.PlaybackBuffer{}, err
	}

	return audio.PlaybackBuffer{
		Samples: samples,
		Format:  d.format,
	}, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}

// PCM16 converts 16-bit little-endian PCM bytes to float samples
func PCM16(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("truncated PCM16 payload: %d bytes", len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return samples, nil
}
