// ABOUTME: Gapless playback scheduler for streamed speech
// ABOUTME: Decodes payloads and schedules them back-to-back on the output clock
package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/output"
	"github.com/rs/zerolog/log"
)

// ErrDecode wraps payloads that could not be decoded
var ErrDecode = errors.New("audio decode failed")

// Scheduler queues decoded buffers on an output device so each starts
// exactly when the previous one ends. It is not safe for concurrent use:
// all calls, including the removals passed to post, must run on one
// goroutine.
type Scheduler struct {
	device  output.Device
	decoder decode.Decoder
	post    func(func())

	// nextFrame is the first free frame of the queue; nextStart is the
	// same point as a duration. Tracking frames keeps boundaries exact.
	nextFrame   int64
	nextStart   time.Duration
	outstanding map[uint64]output.Source
	nextID      uint64

	stats SchedulerStats
}

// SchedulerStats tracks scheduler metrics
type SchedulerStats struct {
	Received    int64
	Scheduled   int64
	Dropped     int64
	Interrupted int64 // sources cut short by Interrupt
	Ended       int64
	Outstanding int
	QueuedAhead time.Duration
}

// NewScheduler creates a playback scheduler. post runs a function on the
// owner's goroutine; a nil post runs it in place.
func NewScheduler(device output.Device, decoder decode.Decoder, post func(func())) *Scheduler {
	if post == nil {
		post = func(fn func()) { fn() }
	}
	return &Scheduler{
		device:      device,
		decoder:     decoder,
		post:        post,
		outstanding: make(map[uint64]output.Source),
	}
}

// Enqueue decodes payload and schedules it after everything already queued,
// or now if the queue has drained. Decode failures drop the payload and
// return an error wrapping ErrDecode; playback is unaffected.
func (s *Scheduler) Enqueue(payload string) error {
	s.stats.Received++

	buf, err := s.decoder.Decode(payload)
	if err != nil {
		s.stats.Dropped++
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if s.device.Suspended() {
		if err := s.device.Resume(); err != nil {
			log.Warn().Err(err).Msg("Failed to resume output device")
		}
	}

	rate := buf.Format.SampleRate
	startFrame := max(s.nextFrame, audio.DurationToFrames(s.device.Now(), rate))
	start := audio.FramesToDuration(startFrame, rate)

	id := s.nextID
	s.nextID++

	src, err := s.device.Start(buf, start, func() {
		s.post(func() { s.ended(id) })
	})
	if err != nil {
		s.stats.Dropped++
		return fmt.Errorf("failed to schedule buffer: %w", err)
	}

	s.outstanding[id] = src
	s.nextFrame = startFrame + int64(buf.Frames())
	s.nextStart = audio.FramesToDuration(s.nextFrame, rate)
	s.stats.Scheduled++

	if s.stats.Scheduled <= 3 {
		log.Debug().
			Uint64("id", id).
			Dur("start", start).
			Dur("duration", buf.Duration()).
			Msg("Scheduled buffer")
	}

	return nil
}

func (s *Scheduler) ended(id uint64) {
	if _, ok := s.outstanding[id]; !ok {
		return
	}
	delete(s.outstanding, id)
	s.stats.Ended++
}

// Interrupt stops every outstanding source and resets the queue so the
// next buffer starts immediately. It returns the number of sources stopped.
func (s *Scheduler) Interrupt() int {
	stopped := 0
	for id, src := range s.outstanding {
		if err := src.Stop(); err != nil {
			if !errors.Is(err, output.ErrSourceFinished) {
				log.Warn().Err(err).Uint64("id", id).Msg("Failed to stop source")
			}
		} else {
			stopped++
		}
		delete(s.outstanding, id)
	}
	s.nextFrame = 0
	s.nextStart = 0
	s.stats.Interrupted += int64(stopped)
	return stopped
}

// NextStart returns when the next buffer would start if the queue is busy
func (s *Scheduler) NextStart() time.Duration {
	return s.nextStart
}

// Outstanding returns the number of sources scheduled but not finished
func (s *Scheduler) Outstanding() int {
	return len(s.outstanding)
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() SchedulerStats {
	stats := s.stats
	stats.Outstanding = len(s.outstanding)
	if ahead := s.nextStart - s.device.Now(); ahead > 0 {
		stats.QueuedAhead = ahead
	}
	return stats
}
