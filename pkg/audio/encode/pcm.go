// ABOUTME: PCM16 audio encoder
// ABOUTME: Encodes float samples to 16-bit PCM bytes and base64 text
package encode

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
)

// PCMEncoder encodes mono float samples to 16-bit little-endian PCM
type PCMEncoder struct {
	sampleRate int
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (Encoder, error) {
	if format.Channels != 1 {
		return nil, fmt.Errorf("unsupported channel count: %d (supported: 1)", format.Channels)
	}
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", format.SampleRate)
	}

	return &PCMEncoder{
		sampleRate: format.SampleRate,
	}, nil
}

// Encode converts float samples to PCM bytes
func (e *PCMEncoder) Encode(samples []float32) ([]byte, error) {
	return PCM16(samples), nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}

// PCM16 packs samples as 16-bit little-endian PCM with scale-and-clamp
func PCM16(samples []float32) []byte {
	output := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(audio.SampleToInt16(sample)))
	}
	return output
}

// Text returns the base64 form of raw PCM bytes
func Text(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// Block packs a capture block with enc for transport and measures its volume
func Block(enc Encoder, block audio.Block) (audio.EncodedBlock, error) {
	data, err := enc.Encode(block.Samples)
	if err != nil {
		return audio.EncodedBlock{}, fmt.Errorf("failed to encode block %d: %w", block.Seq, err)
	}
	return audio.EncodedBlock{
		Seq:    block.Seq,
		Data:   Text(data),
		Volume: audio.Volume(block.Samples),
	}, nil
}
