// ABOUTME: Audio type definitions
// ABOUTME: Defines capture blocks, encoded blocks and decoded playback buffers
package audio

import "time"

const (
	// CaptureSampleRate is the rate of microphone audio sent to the backend
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of synthesized speech received from the backend
	PlaybackSampleRate = 24000

	// BlockSize is the number of capture samples per block
	BlockSize = 4096

	// CaptureMIMEType describes encoded capture blocks on the wire
	CaptureMIMEType = "audio/pcm;rate=16000"

	// PCM16 range constants
	MaxInt16 = 32767
	MinInt16 = -32768
)

// Format describes an audio stream format
type Format struct {
	SampleRate int
	Channels   int
}

// CaptureFormat is the mono 16 kHz capture format
var CaptureFormat = Format{SampleRate: CaptureSampleRate, Channels: 1}

// PlaybackFormat is the mono 24 kHz playback format
var PlaybackFormat = Format{SampleRate: PlaybackSampleRate, Channels: 1}

// Block is one fixed-size chunk of captured samples in [-1, 1]
type Block struct {
	Seq     uint64
	Samples []float32
}

// EncodedBlock is a capture block packed for transport
type EncodedBlock struct {
	Seq    uint64
	Data   string  // base64 PCM16 little-endian
	Volume float64 // RMS loudness, see Volume
}

// PlaybackBuffer is decoded speech ready to be scheduled
type PlaybackBuffer struct {
	Samples []float32
	Format  Format
}

// Frames returns the number of sample frames in the buffer
func (b PlaybackBuffer) Frames() int {
	if b.Format.Channels <= 0 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Format.Channels
}

// Duration returns the playback length of the buffer
func (b PlaybackBuffer) Duration() time.Duration {
	return FramesToDuration(int64(b.Frames()), b.Format.SampleRate)
}

// FramesToDuration converts a frame count at sampleRate to a duration
func FramesToDuration(frames int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// DurationToFrames converts a duration to the nearest frame count at
// sampleRate. It inverts FramesToDuration exactly.
func DurationToFrames(d time.Duration, sampleRate int) int64 {
	n := int64(d) * int64(sampleRate)
	half := int64(time.Second) / 2
	if n < 0 {
		return (n - half) / int64(time.Second)
	}
	return (n + half) / int64(time.Second)
}

// SampleToInt16 converts a float sample to int16 with scale-and-clamp
func SampleToInt16(sample float32) int16 {
	v := float64(sample) * MaxInt16
	if v > MaxInt16 {
		return MaxInt16
	}
	if v < MinInt16 {
		return MinInt16
	}
	if v >= 0 {
		return int16(v + 0.5)
	}
	return int16(v - 0.5)
}

// SampleFromInt16 converts an int16 sample back to [-1, 1]
func SampleFromInt16(sample int16) float32 {
	if sample == MinInt16 {
		return -1
	}
	return float32(sample) / MaxInt16
}
