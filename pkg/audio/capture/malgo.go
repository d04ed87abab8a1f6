// ABOUTME: Malgo-based microphone capture
// ABOUTME: Captures mono float32 audio through miniaudio
package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

// Malgo capture device
type Malgo struct{}

// NewMalgo creates a malgo capture device
func NewMalgo() Device {
	return Malgo{}
}

// Name identifies the device
func (Malgo) Name() string {
	return DeviceMalgo
}

type malgoStream struct {
	mu         sync.Mutex
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	onFrames   func([]float32)
	scratch    []float32
}

// Open acquires the default capture device. miniaudio converts to the
// requested rate, so frames always arrive at cfg.SampleRate.
func (Malgo) Open(cfg Config) (Stream, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	s := &malgoStream{
		malgoCtx:   ctx,
		sampleRate: cfg.SampleRate,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.FramesPerBuffer)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			s.dataCallback(pInputSamples, frameCount)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		s.freeContext()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	s.device = device

	return s, nil
}

func (s *malgoStream) dataCallback(input []byte, frameCount uint32) {
	s.mu.Lock()
	onFrames := s.onFrames
	s.mu.Unlock()
	if onFrames == nil {
		return
	}

	n := int(frameCount)
	if len(input) < n*4 {
		n = len(input) / 4
	}
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	samples := s.scratch[:n]
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}

	onFrames(samples)
}

func (s *malgoStream) Start(onFrames func([]float32)) error {
	s.mu.Lock()
	if s.device == nil {
		s.mu.Unlock()
		return fmt.Errorf("capture device closed")
	}
	s.onFrames = onFrames
	device := s.device
	s.mu.Unlock()

	if err := device.Start(); err != nil {
		s.mu.Lock()
		s.onFrames = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (s *malgoStream) Stop() error {
	s.mu.Lock()
	s.onFrames = nil
	device := s.device
	s.mu.Unlock()

	if device == nil || !device.IsStarted() {
		return nil
	}
	if err := device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (s *malgoStream) Close() error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	s.freeContext()
	return nil
}

func (s *malgoStream) freeContext() {
	if s.malgoCtx == nil {
		return
	}
	if err := s.malgoCtx.Uninit(); err != nil {
		log.Warn().Err(err).Msg("malgo context uninit error")
	}
	s.malgoCtx.Free()
	s.malgoCtx = nil
}

func (s *malgoStream) SampleRate() int {
	return s.sampleRate
}
