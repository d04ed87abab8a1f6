// ABOUTME: Audio output interface definition
// ABOUTME: Clocked playback device with scheduled sources and pluggable backends
package output

import (
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
	"github.com/rs/zerolog/log"
)

var (
	// ErrSourceFinished is returned when stopping a source that already ended or was stopped
	ErrSourceFinished = errors.New("source already finished")

	// ErrClosed is returned when scheduling on a closed device
	ErrClosed = errors.New("output device closed")
)

// Source is a buffer scheduled on a Device
type Source interface {
	// Stop silences the source immediately. Stopping does not run its
	// end callback.
	Stop() error
}

// Device is a clocked playback device
type Device interface {
	// Now returns the device clock. It only advances while audio is rendered.
	Now() time.Duration

	// Suspended reports whether the clock is paused
	Suspended() bool

	// Resume restarts a suspended device
	Resume() error

	// Start schedules buf to begin at device time at. A start time already
	// in the past plays immediately. onEnded runs once after the last
	// sample has been rendered, on the rendering goroutine.
	Start(buf audio.PlaybackBuffer, at time.Duration, onEnded func()) (Source, error)

	// Close releases the device. Pending sources are dropped.
	Close() error
}

// VolumeControl is implemented by devices with software gain
type VolumeControl interface {
	SetVolume(volume int)
	SetMuted(muted bool)
	Volume() int
	Muted() bool
}

// Backend pulls rendered audio from a Mixer into a hardware device
type Backend interface {
	// Open starts pulling from m
	Open(m *Mixer) error

	// Close stops the device
	Close() error

	// Name identifies the backend in logs
	Name() string
}

// Backend names
const (
	BackendMalgo     = "malgo"
	BackendOto       = "oto"
	BackendPortAudio = "portaudio"
)

// NewBackend returns the backend registered under name
func NewBackend(name string) (Backend, error) {
	switch name {
	case "", BackendMalgo:
		return NewMalgo(), nil
	case BackendOto:
		return NewOto(), nil
	case BackendPortAudio:
		return NewPortAudio(), nil
	default:
		return nil, fmt.Errorf("unknown output backend: %q", name)
	}
}

// Player is a Mixer rendered through a hardware Backend
type Player struct {
	*Mixer
	backend Backend
}

// Open creates a mixer for format and starts backend name pulling from it
func Open(name string, format audio.Format) (*Player, error) {
	backend, err := NewBackend(name)
	if err != nil {
		return nil, err
	}
	return openPlayer(backend, format)
}

// openPlayer starts backend on a suspended mixer. The clock holds at zero
// until the first buffer is scheduled and resumes it.
func openPlayer(backend Backend, format audio.Format) (*Player, error) {
	mixer := NewMixer(format)
	mixer.Suspend()
	if err := backend.Open(mixer); err != nil {
		mixer.Close()
		return nil, fmt.Errorf("failed to open %s output: %w", backend.Name(), err)
	}

	log.Info().
		Str("backend", backend.Name()).
		Int("rate", format.SampleRate).
		Int("channels", format.Channels).
		Msg("Audio output initialized")

	return &Player{Mixer: mixer, backend: backend}, nil
}

// Close stops the backend and drops pending sources
func (p *Player) Close() error {
	berr := p.backend.Close()
	merr := p.Mixer.Close()
	if berr != nil {
		return fmt.Errorf("failed to close %s output: %w", p.backend.Name(), berr)
	}
	return merr
}
