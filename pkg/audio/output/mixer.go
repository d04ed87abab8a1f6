// ABOUTME: Software mixer with a sample-accurate playback clock
// ABOUTME: Renders scheduled sources at their start frames for pull-based backends
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
)

// Mixer implements Device in software. Backends call Render (or Read) from
// their audio callback; the clock is the number of frames rendered so far.
type Mixer struct {
	mu        sync.Mutex
	format    audio.Format
	frames    int64
	suspended bool
	closed    bool
	voices    []*voice
	volume    int
	muted     bool
	scratch   []float32
}

type voice struct {
	mixer   *Mixer
	samples []float32
	start   int64 // first frame
	onEnded func()
	done    bool
}

// NewMixer creates a running mixer for format
func NewMixer(format audio.Format) *Mixer {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	return &Mixer{
		format: format,
		volume: 100,
	}
}

// Format returns the mixer format
func (m *Mixer) Format() audio.Format {
	return m.format
}

// Now returns the device clock
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return audio.FramesToDuration(m.frames, m.format.SampleRate)
}

// Suspended reports whether the clock is paused
func (m *Mixer) Suspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended
}

// Suspend pauses the clock; Render outputs silence until Resume
func (m *Mixer) Suspend() {
	m.mu.Lock()
	m.suspended = true
	m.mu.Unlock()
}

// Resume restarts the clock
func (m *Mixer) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.suspended = false
	return nil
}

// Start schedules buf at device time at
func (m *Mixer) Start(buf audio.PlaybackBuffer, at time.Duration, onEnded func()) (Source, error) {
	if buf.Format.SampleRate != m.format.SampleRate || buf.Format.Channels != m.format.Channels {
		return nil, fmt.Errorf("buffer format %dHz/%dch does not match output %dHz/%dch",
			buf.Format.SampleRate, buf.Format.Channels, m.format.SampleRate, m.format.Channels)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	start := audio.DurationToFrames(at, m.format.SampleRate)
	if start < m.frames {
		start = m.frames
	}

	v := &voice{
		mixer:   m,
		samples: buf.Samples,
		start:   start,
		onEnded: onEnded,
	}
	m.voices = append(m.voices, v)
	return v, nil
}

// Stop removes the voice without running its end callback
func (v *voice) Stop() error {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()

	if v.done {
		return ErrSourceFinished
	}
	v.done = true
	m.removeLocked(v)
	return nil
}

func (m *Mixer) removeLocked(target *voice) {
	for i, v := range m.voices {
		if v == target {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// Render mixes the next len(out)/channels frames into out and advances the
// clock. Finished voices have their end callbacks run before Render returns.
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	ended := m.render(out)
	for _, fn := range ended {
		fn()
	}
}

func (m *Mixer) render(out []float32) []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.suspended {
		return nil
	}

	channels := m.format.Channels
	n := int64(len(out) / channels)
	from := m.frames
	to := from + n
	gain := float32(getVolumeMultiplier(m.volume, m.muted))

	var ended []func()
	kept := m.voices[:0]
	for _, v := range m.voices {
		vFrames := int64(len(v.samples) / channels)
		vEnd := v.start + vFrames

		lo := max(v.start, from)
		hi := min(vEnd, to)
		for f := lo; f < hi; f++ {
			src := (f - v.start) * int64(channels)
			dst := (f - from) * int64(channels)
			for ch := int64(0); ch < int64(channels); ch++ {
				out[dst+ch] += v.samples[src+ch] * gain
			}
		}

		if vEnd <= to {
			v.done = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = kept

	for i, s := range out {
		out[i] = clamp(s)
	}

	m.frames = to
	return ended
}

// Read renders S16LE bytes for reader-based backends
func (m *Mixer) Read(p []byte) (int, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return 0, io.EOF
	}

	// whole frames only
	frameBytes := 2 * m.format.Channels
	samples := (len(p) / frameBytes) * m.format.Channels
	if samples == 0 {
		return 0, nil
	}

	if cap(m.scratch) < samples {
		m.scratch = make([]float32, samples)
	}
	buf := m.scratch[:samples]
	m.Render(buf)

	for i, s := range buf {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(audio.SampleToInt16(s)))
	}
	return samples * 2, nil
}

// Close drops all voices and stops the clock
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.voices {
		v.done = true
	}
	m.voices = nil
	m.closed = true
	return nil
}

// SetVolume sets the volume (0-100)
func (m *Mixer) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	m.mu.Lock()
	m.volume = volume
	m.mu.Unlock()
}

// SetMuted sets mute state
func (m *Mixer) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

// Volume returns current volume
func (m *Mixer) Volume() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// Muted returns mute state
func (m *Mixer) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
