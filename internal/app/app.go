// ABOUTME: Main mentor application orchestration
// ABOUTME: Coordinates the usage gate, session controller and UI updates
package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/Resonate-Protocol/mentor-go/internal/config"
	"github.com/Resonate-Protocol/mentor-go/internal/session"
	"github.com/Resonate-Protocol/mentor-go/internal/transport"
	"github.com/Resonate-Protocol/mentor-go/internal/ui"
	"github.com/Resonate-Protocol/mentor-go/internal/usage"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/output"
	"github.com/rs/zerolog/log"
)

// ErrBusy is returned by Start while a session is in progress
var ErrBusy = errors.New("session in progress")

const statsInterval = 500 * time.Millisecond

// Deps overrides the components built from config. Nil fields use the
// configured devices, transport and usage file.
type Deps struct {
	Dialer     transport.Dialer
	Capture    capture.Device
	OpenOutput func() (output.Device, error)
	Store      usage.Store
	GateOpts   []usage.Option
}

// App wires one session controller behind the usage gate
type App struct {
	cfg    config.Config
	gate   *usage.Gate
	ctrl   *session.Controller
	update func(ui.StatusMsg)
	ended  chan struct{}
}

// New builds the app. update receives status for the TUI and may be nil.
func New(cfg config.Config, deps Deps, update func(ui.StatusMsg)) (*App, error) {
	if update == nil {
		update = func(ui.StatusMsg) {}
	}

	if deps.Dialer == nil {
		d, err := transport.NewDialer(cfg.Transport)
		if err != nil {
			return nil, err
		}
		deps.Dialer = d
	}
	if deps.Capture == nil {
		c, err := capture.NewDevice(cfg.Capture)
		if err != nil {
			return nil, err
		}
		deps.Capture = c
	}
	if deps.OpenOutput == nil {
		backend := cfg.Output
		deps.OpenOutput = func() (output.Device, error) {
			return output.Open(backend, audio.PlaybackFormat)
		}
	}
	if deps.Store == nil {
		deps.Store = usage.NewFileStore(cfg.UsageFile)
	}

	gate, err := usage.NewGate(deps.Store, deps.GateOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}

	a := &App{
		cfg:    cfg,
		gate:   gate,
		update: update,
		ended:  make(chan struct{}, 1),
	}

	a.ctrl = session.New(session.Config{
		Dialer:          deps.Dialer,
		TransportConfig: cfg.TransportConfig(),
		Capture:         deps.Capture,
		CaptureConfig:   cfg.CaptureConfig(),
		OpenOutput:      deps.OpenOutput,
		OnStateChange:   a.onStateChange,
		OnConnect:       a.onConnect,
		OnDisconnect:    a.onDisconnect,
		OnVolume:        a.onVolume,
		OnError:         a.onError,
	})
	a.ctrl.SetOutputVolume(cfg.Volume, false)

	status := gate.Status()
	update(ui.StatusMsg{Gate: &status})
	return a, nil
}

// Start asks the gate for a session and connects if allowed. A denial is
// returned as a Decision, not an error. The idle check, the gate and the
// connect happen as one step, so a counted use always gets its session.
func (a *App) Start() (usage.Decision, error) {
	var decision usage.Decision
	var gateErr error

	err := a.ctrl.ConnectIf(func() bool {
		decision, gateErr = a.gate.RequestStart()
		if gateErr != nil || !decision.Allowed {
			return false
		}
		log.Info().Int("uses", decision.UsesCount).Msg("Starting session")
		return true
	})
	if errors.Is(err, session.ErrNotIdle) {
		return usage.Decision{}, ErrBusy
	}

	a.pushGate()
	if gateErr != nil {
		a.reportError(gateErr)
		return decision, gateErr
	}
	if err != nil {
		return decision, fmt.Errorf("failed to connect: %w", err)
	}
	if !decision.Allowed {
		log.Info().
			Str("remaining", usage.FormatRemaining(decision.Remaining)).
			Msg("Session start refused: usage limit reached")
	}
	return decision, nil
}

// Stop ends the current session
func (a *App) Stop() error {
	return a.ctrl.Disconnect()
}

// Toggle starts a session when idle and stops it otherwise
func (a *App) Toggle() {
	if a.ctrl.State() == session.StateIdle {
		if _, err := a.Start(); err != nil {
			log.Warn().Err(err).Msg("Start failed")
		}
		return
	}
	if err := a.Stop(); err != nil {
		log.Warn().Err(err).Msg("Stop failed")
	}
}

// SetVolume sets playback volume and mute
func (a *App) SetVolume(volume int, muted bool) {
	log.Debug().Int("volume", volume).Bool("muted", muted).Msg("Volume change")
	a.ctrl.SetOutputVolume(volume, muted)
}

// Gate returns the usage gate
func (a *App) Gate() *usage.Gate {
	return a.gate
}

// State returns the session state
func (a *App) State() session.State {
	return a.ctrl.State()
}

// Ended signals each time a session ends
func (a *App) Ended() <-chan struct{} {
	return a.ended
}

// Run refreshes the gate and statistics until ctx is done
func (a *App) Run(ctx context.Context) {
	go a.gate.Run(ctx, usage.RecheckInterval, func(s usage.Status) {
		a.update(ui.StatusMsg{Gate: &s})
	})
	a.statsLoop(ctx)
}

// Close ends any session and stops the controller
func (a *App) Close() error {
	return a.ctrl.Close()
}

// statsLoop periodically sends playback statistics
func (a *App) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	// runtime stats are expensive; sample them less often
	runtimeTicker := time.NewTicker(2 * time.Second)
	defer runtimeTicker.Stop()

	var goroutines int
	var memAlloc uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-runtimeTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			goroutines = runtime.NumGoroutine()
			memAlloc = m.Alloc
		case <-ticker.C:
			snap := a.ctrl.Snapshot()
			a.update(ui.StatusMsg{
				SessionID:  &snap.SessionID,
				Playback:   &snap.Playback,
				BlocksSent: snap.BlocksSent,
				Goroutines: goroutines,
				MemAlloc:   memAlloc,
			})
		}
	}
}

func (a *App) pushGate() {
	status := a.gate.Status()
	a.update(ui.StatusMsg{Gate: &status})
}

func (a *App) reportError(err error) {
	msg := err.Error()
	a.update(ui.StatusMsg{Error: &msg})
}

// Controller callbacks run on the controller loop

func (a *App) onStateChange(s session.State) {
	a.update(ui.StatusMsg{State: &s})
}

func (a *App) onConnect() {
	none := ""
	a.update(ui.StatusMsg{Error: &none})
}

func (a *App) onDisconnect() {
	status := a.gate.SessionEnded()
	a.update(ui.StatusMsg{Gate: &status})

	select {
	case a.ended <- struct{}{}:
	default:
	}
}

func (a *App) onVolume(v float64) {
	a.update(ui.StatusMsg{MicLevel: &v})
}

func (a *App) onError(err error) {
	log.Error().Err(err).Msg("Session error")
	a.reportError(err)
}
