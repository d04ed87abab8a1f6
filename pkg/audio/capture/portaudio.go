//go:build portaudio

// ABOUTME: PortAudio microphone capture
// ABOUTME: Opens a mono float32 callback stream on the named or default input
package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio capture device
type PortAudio struct{}

// NewPortAudio creates a PortAudio capture device
func NewPortAudio() Device {
	return PortAudio{}
}

// Name identifies the device
func (PortAudio) Name() string {
	return DevicePortAudio
}

type portAudioStream struct {
	mu         sync.Mutex
	stream     *portaudio.Stream
	sampleRate int
	onFrames   func([]float32)
}

// Open initializes PortAudio and opens an input stream
func (PortAudio) Open(cfg Config) (Stream, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	device, err := findInputDevice(cfg.DeviceName)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	s := &portAudioStream{sampleRate: cfg.SampleRate}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}, s.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	s.stream = stream
	return s, nil
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

func (s *portAudioStream) callback(in []float32) {
	s.mu.Lock()
	onFrames := s.onFrames
	s.mu.Unlock()
	if onFrames != nil {
		onFrames(in)
	}
}

func (s *portAudioStream) Start(onFrames func([]float32)) error {
	s.mu.Lock()
	s.onFrames = onFrames
	s.mu.Unlock()

	if err := s.stream.Start(); err != nil {
		s.mu.Lock()
		s.onFrames = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	return nil
}

func (s *portAudioStream) Stop() error {
	s.mu.Lock()
	s.onFrames = nil
	s.mu.Unlock()
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	s.Stop()
	err := s.stream.Close()
	portaudio.Terminate()
	return err
}

func (s *portAudioStream) SampleRate() int {
	return s.sampleRate
}
