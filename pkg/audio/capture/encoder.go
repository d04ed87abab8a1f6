// ABOUTME: Capture block encoder
// ABOUTME: Accumulates device frames into fixed-size PCM16 base64 blocks
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/encode"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/resample"
	"github.com/rs/zerolog/log"
)

// Encoder turns a capture stream into encoded blocks of audio.BlockSize
// samples at 16 kHz. The sink runs on the driver thread with the encoder
// locked, so it must not block or call back into the encoder.
type Encoder struct {
	mu        sync.Mutex
	codec     encode.Encoder
	sink      func(audio.EncodedBlock)
	stream    Stream
	resampler *resample.Resampler
	pending   []float32
	seq       uint64
	running   bool
	stopped   bool
}

// NewEncoder creates an encoder packing blocks with codec and delivering
// them to sink. The encoder owns codec and closes it on Stop.
func NewEncoder(codec encode.Encoder, sink func(audio.EncodedBlock)) *Encoder {
	return &Encoder{codec: codec, sink: sink}
}

// Start attaches to stream and starts it
func (e *Encoder) Start(stream Stream) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("encoder already started")
	}
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("encoder stopped")
	}

	e.stream = stream
	e.pending = make([]float32, 0, audio.BlockSize*2)
	e.resampler = nil
	if rate := stream.SampleRate(); rate != audio.CaptureSampleRate {
		log.Debug().Int("from", rate).Int("to", audio.CaptureSampleRate).Msg("Resampling capture audio")
		e.resampler = resample.New(rate, audio.CaptureSampleRate, 1)
	}
	e.running = true
	e.mu.Unlock()

	if err := stream.Start(e.onFrames); err != nil {
		e.release()
		return fmt.Errorf("failed to start capture: %w", err)
	}
	return nil
}

func (e *Encoder) onFrames(samples []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	if e.resampler != nil {
		samples = e.resampler.Resample(samples)
	}
	e.pending = append(e.pending, samples...)

	for len(e.pending) >= audio.BlockSize {
		block := audio.Block{
			Seq:     e.seq,
			Samples: make([]float32, audio.BlockSize),
		}
		copy(block.Samples, e.pending[:audio.BlockSize])
		e.seq++

		n := copy(e.pending, e.pending[audio.BlockSize:])
		e.pending = e.pending[:n]

		encoded, err := encode.Block(e.codec, block)
		if err != nil {
			log.Warn().Err(err).Msg("Dropped capture block")
			continue
		}
		e.sink(encoded)
	}
}

// Stop detaches from the stream, stops it and closes the codec. A partial
// block is discarded. Stop is safe to call repeatedly and before Start.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	stream := e.stream
	running := e.running
	e.mu.Unlock()

	if !running {
		return nil
	}

	e.release()

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop capture: %w", err))
	}
	if err := e.codec.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close codec: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Encoder) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.stream = nil
	e.pending = nil
	e.resampler = nil
}

// Blocks returns the number of blocks emitted
func (e *Encoder) Blocks() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
