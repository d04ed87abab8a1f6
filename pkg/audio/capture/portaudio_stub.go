//go:build !portaudio

// ABOUTME: PortAudio capture stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package capture

import (
	"errors"
)

// PortAudio capture device (stub)
type PortAudio struct{}

// NewPortAudio creates a PortAudio capture device
func NewPortAudio() Device {
	return PortAudio{}
}

// Name identifies the device
func (PortAudio) Name() string {
	return DevicePortAudio
}

// Open always fails without the portaudio build tag
func (PortAudio) Open(cfg Config) (Stream, error) {
	return nil, errors.New("PortAudio support not enabled (build with -tags portaudio)")
}
