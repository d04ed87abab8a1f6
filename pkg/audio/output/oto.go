// ABOUTME: Oto-based playback backend
// ABOUTME: Streams mixer output as S16LE through an oto player
package output

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"
)

// oto allows one context per process, so it is created once and reused
var (
	otoMu       sync.Mutex
	otoCtx      *oto.Context
	otoRate     int
	otoChannels int
)

// Oto backend using the oto library
type Oto struct {
	player *oto.Player
}

// NewOto creates a new Oto backend
func NewOto() Backend {
	return &Oto{}
}

// Name identifies the backend
func (o *Oto) Name() string {
	return BackendOto
}

// Open creates (or reuses) the oto context and plays the mixer
func (o *Oto) Open(mixer *Mixer) error {
	format := mixer.Format()

	ctx, err := sharedOtoContext(format.SampleRate, format.Channels)
	if err != nil {
		return err
	}

	o.player = ctx.NewPlayer(mixer)
	o.player.Play()
	return nil
}

func sharedOtoContext(sampleRate, channels int) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if otoRate != sampleRate || otoChannels != channels {
			return nil, fmt.Errorf("oto context already initialized at %dHz/%dch, cannot switch to %dHz/%dch",
				otoRate, otoChannels, sampleRate, channels)
		}
		if err := otoCtx.Resume(); err != nil {
			return nil, fmt.Errorf("failed to resume oto context: %w", err)
		}
		return otoCtx, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	otoCtx = ctx
	otoRate = sampleRate
	otoChannels = channels
	return ctx, nil
}

// Close stops the player. The shared context is suspended, not destroyed.
func (o *Oto) Close() error {
	if o.player != nil {
		o.player.Pause()
		if err := o.player.Close(); err != nil {
			log.Warn().Err(err).Msg("oto player close error")
		}
		o.player = nil
	}

	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		if err := otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}
