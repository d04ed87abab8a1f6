//go:build portaudio

// ABOUTME: PortAudio playback backend
// ABOUTME: Cross-platform audio output pulling float samples from the mixer
package output

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudio backend
type PortAudio struct {
	stream *portaudio.Stream
}

// NewPortAudio creates a new PortAudio backend
func NewPortAudio() Backend {
	return &PortAudio{}
}

// Name identifies the backend
func (p *PortAudio) Name() string {
	return BackendPortAudio
}

// Open initializes PortAudio and starts a callback stream on the mixer
func (p *PortAudio) Open(mixer *Mixer) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	format := mixer.Format()
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), 0, func(out []float32) {
		mixer.Render(out)
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start stream: %w", err)
	}

	p.stream = stream
	return nil
}

// Close releases resources
func (p *PortAudio) Close() error {
	if p.stream == nil {
		return nil
	}
	if err := p.stream.Stop(); err != nil {
		return err
	}
	if err := p.stream.Close(); err != nil {
		return err
	}
	p.stream = nil
	return portaudio.Terminate()
}
