// ABOUTME: Capture device interface definition
// ABOUTME: Common interface for microphone backends and synthetic sources
package capture

import (
	"fmt"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
)

// Config selects the capture format
type Config struct {
	SampleRate      int
	Channels        int
	DeviceName      string // empty for the system default
	FramesPerBuffer int
}

// DefaultConfig returns mono 16 kHz capture
func DefaultConfig() Config {
	return Config{
		SampleRate:      audio.CaptureSampleRate,
		Channels:        1,
		FramesPerBuffer: 1024,
	}
}

// Stream is an acquired capture device
type Stream interface {
	// Start begins delivering frames. onFrames runs on the driver thread
	// and must not retain the slice.
	Start(onFrames func(samples []float32)) error

	// Stop pauses delivery; the stream can be started again
	Stop() error

	// Close releases the device
	Close() error

	// SampleRate is the rate frames are delivered at
	SampleRate() int
}

// Device opens capture streams
type Device interface {
	// Open acquires the device. Partially acquired resources are released
	// before an error is returned.
	Open(cfg Config) (Stream, error)

	// Name identifies the device in logs
	Name() string
}

// Device names
const (
	DeviceMalgo     = "malgo"
	DevicePortAudio = "portaudio"
	DeviceTone      = "tone"
)

// NewDevice returns the capture device registered under name
func NewDevice(name string) (Device, error) {
	switch name {
	case "", DeviceMalgo:
		return NewMalgo(), nil
	case DevicePortAudio:
		return NewPortAudio(), nil
	case DeviceTone:
		return NewTone(DefaultToneFrequency), nil
	default:
		return nil, fmt.Errorf("unknown capture device: %q", name)
	}
}

func validate(cfg Config) error {
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", cfg.SampleRate)
	}
	if cfg.Channels != 1 {
		return fmt.Errorf("unsupported channel count: %d (supported: 1)", cfg.Channels)
	}
	return nil
}
