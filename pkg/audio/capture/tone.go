// ABOUTME: Synthetic tone capture source
// ABOUTME: Generates a sine wave at real-time pace for headless sessions and tests
package capture

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultToneFrequency is A4
const DefaultToneFrequency = 440.0

// Tone is a capture device that produces a sine wave instead of recording
type Tone struct {
	frequency float64
	amplitude float64
}

// NewTone creates a tone device at frequency Hz and half amplitude
func NewTone(frequency float64) *Tone {
	return &Tone{
		frequency: frequency,
		amplitude: 0.5,
	}
}

// Name identifies the device
func (t *Tone) Name() string {
	return DeviceTone
}

// Open creates a tone stream
func (t *Tone) Open(cfg Config) (Stream, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = 1024
	}

	return &ToneStream{
		frequency:  t.frequency,
		amplitude:  t.amplitude,
		sampleRate: cfg.SampleRate,
		frames:     frames,
	}, nil
}

// ToneStream delivers one buffer per buffer-duration tick
type ToneStream struct {
	sampleIndex uint64
	sampleMu    sync.Mutex
	frequency   float64
	amplitude   float64
	sampleRate  int
	frames      int

	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// Read fills samples with the next part of the wave
func (s *ToneStream) Read(samples []float32) int {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	for i := range samples {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.sampleRate)
		samples[i] = float32(math.Sin(2*math.Pi*s.frequency*t) * s.amplitude)
	}
	s.sampleIndex += uint64(len(samples))

	return len(samples)
}

// Start begins delivering buffers from a ticker goroutine
func (s *ToneStream) Start(onFrames func([]float32)) error {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	if s.closed {
		return fmt.Errorf("tone stream closed")
	}
	if s.stop != nil {
		return fmt.Errorf("tone stream already started")
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(onFrames, s.stop, s.done)
	return nil
}

func (s *ToneStream) run(onFrames func([]float32), stop, done chan struct{}) {
	defer close(done)

	interval := time.Duration(s.frames) * time.Second / time.Duration(s.sampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := make([]float32, s.frames)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Read(buf)
			onFrames(buf)
		}
	}
}

// Stop halts delivery and waits for the generator to exit
func (s *ToneStream) Stop() error {
	s.sampleMu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.sampleMu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// Close stops the stream for good
func (s *ToneStream) Close() error {
	err := s.Stop()
	s.sampleMu.Lock()
	s.closed = true
	s.sampleMu.Unlock()
	return err
}

// SampleRate returns the generated rate
func (s *ToneStream) SampleRate() int {
	return s.sampleRate
}
