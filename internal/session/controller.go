// ABOUTME: Streaming session controller
// ABOUTME: Serializes capture, transport and playback events on one event loop
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/mentor-go/internal/playback"
	"github.com/Resonate-Protocol/mentor-go/internal/transport"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/encode"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/output"
	"github.com/Resonate-Protocol/mentor-go/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// State is the controller lifecycle state
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

const eventQueueSize = 256

// Config wires the controller to its devices, transport and owner.
// Callbacks run on the controller's event loop and must not call
// Connect, Disconnect, Snapshot or Close synchronously.
type Config struct {
	Dialer          transport.Dialer
	TransportConfig transport.Config

	Capture       capture.Device
	CaptureConfig capture.Config

	OpenOutput func() (output.Device, error)
	NewDecoder func() (decode.Decoder, error)

	OnStateChange func(State)
	OnConnect     func()
	OnDisconnect  func()
	OnVolume      func(float64)
	OnError       func(error)
}

// Snapshot is a point-in-time view of the controller
type Snapshot struct {
	State      State
	SessionID  string
	BlocksSent uint64
	Playback   playback.SchedulerStats
}

// Controller runs one voice session at a time. All session state is owned
// by the loop goroutine; public methods post work to it.
type Controller struct {
	cfg Config

	events    chan func()
	done      chan struct{}

	// completions are never dropped, unlike events posted with tryPost
	completionMu sync.Mutex
	completions  []func()
	wake         chan struct{}

	loopDone  chan struct{}
	closeOnce sync.Once

	// liveGen identifies the session whose transport events are accepted.
	// Zero means none.
	liveGen atomic.Uint64

	// loop-owned
	state     State
	gen       uint64
	sess      transport.Session
	cancel    context.CancelFunc
	stream    capture.Stream
	encoder   *capture.Encoder
	out       output.Device
	scheduler *playback.Scheduler
	volume    int
	muted     bool
	lastStats playback.SchedulerStats
	lastSent  uint64
}

// New creates a controller and starts its event loop
func New(cfg Config) *Controller {
	if cfg.NewDecoder == nil {
		cfg.NewDecoder = func() (decode.Decoder, error) {
			return decode.NewPCM(audio.PlaybackFormat)
		}
	}
	if cfg.CaptureConfig.SampleRate == 0 {
		cfg.CaptureConfig = capture.DefaultConfig()
	}

	c := &Controller{
		cfg:      cfg,
		events:   make(chan func(), eventQueueSize),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		volume:   100,
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.wake:
			c.runCompletions()
		case <-c.done:
			return
		}
	}
}

// post queues fn on the loop, blocking while the queue is full
func (c *Controller) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

// tryPost queues fn unless the queue is full. Only lossy updates such as
// volume readings use it.
func (c *Controller) tryPost(fn func()) {
	select {
	case c.events <- fn:
	default:
	}
}

// postCompletion queues fn on an unbounded list drained by the loop. It
// never blocks, so audio threads use it for events that must not be lost.
func (c *Controller) postCompletion(fn func()) {
	c.completionMu.Lock()
	c.completions = append(c.completions, fn)
	c.completionMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) runCompletions() {
	c.completionMu.Lock()
	pending := c.completions
	c.completions = nil
	c.completionMu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// call runs fn on the loop and waits for it
func (c *Controller) call(fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() {
		fn()
		close(finished)
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.loopDone:
		return ErrClosed
	}
}

// Connect starts a session. It returns ErrNotIdle unless the controller is
// idle; device and transport failures are reported through OnError.
func (c *Controller) Connect() error {
	return c.ConnectIf(nil)
}

// ConnectIf checks the controller is idle, then runs admit and connects
// only if it returns true, all in one step on the loop. admit is not called
// when ErrNotIdle is returned. A nil admit always connects.
func (c *Controller) ConnectIf(admit func() bool) error {
	var err error
	callErr := c.call(func() {
		if c.state != StateIdle {
			err = ErrNotIdle
			return
		}
		if admit != nil && !admit() {
			return
		}
		err = c.connect()
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Disconnect tears down the current session. It is synchronous and safe to
// call in any state.
func (c *Controller) Disconnect() error {
	return c.call(c.disconnect)
}

// SetOutputVolume sets playback volume (0-100) and mute for this and later sessions
func (c *Controller) SetOutputVolume(volume int, muted bool) {
	c.post(func() {
		c.volume, c.muted = volume, muted
		c.applyVolume()
	})
}

// State returns the current state
func (c *Controller) State() State {
	return c.Snapshot().State
}

// Snapshot returns the current state, session and playback statistics
func (c *Controller) Snapshot() Snapshot {
	var snap Snapshot
	c.call(func() {
		snap = Snapshot{
			State:      c.state,
			Playback:   c.lastStats,
			BlocksSent: c.lastSent,
		}
		if c.sess != nil {
			snap.SessionID = c.sess.ID()
		}
		if c.scheduler != nil {
			snap.Playback = c.scheduler.Stats()
		}
		if c.encoder != nil {
			snap.BlocksSent = c.encoder.Blocks()
		}
	})
	return snap
}

// Close disconnects and stops the event loop
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.call(c.disconnect)
		close(c.done)
		<-c.loopDone
	})
	return nil
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	log.Debug().Str("from", c.state.String()).Str("state", s.String()).Msg("Session state")
	c.state = s
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

func (c *Controller) connect() error {
	if c.state != StateIdle {
		return ErrNotIdle
	}
	c.setState(StateConnecting)

	stream, err := c.cfg.Capture.Open(c.cfg.CaptureConfig)
	if err != nil {
		c.fail(&Error{Kind: KindDevice, Op: "open microphone", Err: err})
		return nil
	}
	c.stream = stream

	out, err := c.cfg.OpenOutput()
	if err != nil {
		c.fail(&Error{Kind: KindDevice, Op: "open speaker", Err: err})
		return nil
	}
	c.out = out
	c.applyVolume()

	decoder, err := c.cfg.NewDecoder()
	if err != nil {
		c.fail(&Error{Kind: KindDevice, Op: "create decoder", Err: err})
		return nil
	}
	c.scheduler = playback.NewScheduler(out, decoder, c.postCompletion)

	c.gen++
	gen := c.gen
	c.liveGen.Store(gen)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	sess, err := c.cfg.Dialer.Open(ctx, c.cfg.TransportConfig, c.handler(gen))
	if err != nil {
		c.fail(&Error{Kind: KindTransport, Op: "open session", Err: err})
		return nil
	}
	c.sess = sess

	log.Info().Str("session", sess.ID()).Msg("Connecting")
	return nil
}

// handler routes transport events for session gen onto the loop
func (c *Controller) handler(gen uint64) transport.Handler {
	current := func() bool { return c.liveGen.Load() == gen }

	return transport.Handler{
		OnOpen: func() {
			if current() {
				c.post(func() { c.onOpen(gen) })
			}
		},
		OnMessage: func(msg *protocol.ServerMessage) {
			if current() {
				c.post(func() { c.onMessage(gen, msg) })
			}
		},
		OnClose: func() {
			if current() {
				c.post(func() { c.onTerminal(gen, nil) })
			}
		},
		OnError: func(err error) {
			if current() {
				c.post(func() { c.onTerminal(gen, err) })
			}
		},
	}
}

func (c *Controller) onOpen(gen uint64) {
	if gen != c.gen || c.state != StateConnecting || c.sess == nil {
		return
	}

	sess := c.sess
	codec, err := encode.NewPCM(audio.CaptureFormat)
	if err != nil {
		c.fail(&Error{Kind: KindDevice, Op: "create encoder", Err: err})
		return
	}
	c.encoder = capture.NewEncoder(codec, func(block audio.EncodedBlock) {
		if err := sess.Send(block); err != nil {
			if !errors.Is(err, transport.ErrSessionClosed) {
				log.Warn().Err(err).Uint64("seq", block.Seq).Msg("Failed to queue block")
			}
			return
		}
		if c.cfg.OnVolume != nil {
			v := block.Volume
			c.tryPost(func() { c.cfg.OnVolume(v) })
		}
	})

	if err := c.encoder.Start(c.stream); err != nil {
		c.fail(&Error{Kind: KindDevice, Op: "start microphone", Err: err})
		return
	}

	log.Info().Str("session", sess.ID()).Msg("Session active")
	c.setState(StateActive)
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}
}

func (c *Controller) onMessage(gen uint64, msg *protocol.ServerMessage) {
	if gen != c.gen || c.scheduler == nil {
		return
	}
	if c.state != StateActive && c.state != StateConnecting {
		return
	}

	if payload, ok := msg.AudioPayload(); ok {
		if err := c.scheduler.Enqueue(payload); err != nil {
			log.Warn().Err(err).Msg("Dropped inbound audio")
			if errors.Is(err, playback.ErrDecode) && c.cfg.OnError != nil {
				c.cfg.OnError(&Error{Kind: KindDecode, Op: "decode audio", Err: err})
			}
		}
	}

	if msg.Interrupted() {
		n := c.scheduler.Interrupt()
		log.Debug().Int("stopped", n).Msg("Playback interrupted")
	}
}

func (c *Controller) onTerminal(gen uint64, err error) {
	if gen != c.gen || (c.state != StateConnecting && c.state != StateActive) {
		return
	}

	if err != nil {
		c.fail(&Error{Kind: KindTransport, Op: "session", Err: err})
		return
	}
	log.Info().Msg("Session closed by backend")
	c.disconnect()
}

// fail tears down and reports err
func (c *Controller) fail(err *Error) {
	log.Error().Err(err).Msg("Session failed")
	c.disconnect()
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

func (c *Controller) disconnect() {
	if c.state == StateIdle {
		return
	}
	c.setState(StateDisconnecting)
	c.teardown()
	c.setState(StateIdle)
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect()
	}
}

// teardown releases whatever connect acquired, in pipeline order
func (c *Controller) teardown() {
	// ignore events from the session being closed
	c.liveGen.Store(0)
	c.gen++

	if c.encoder != nil {
		c.lastSent = c.encoder.Blocks()
		if err := c.encoder.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop encoder")
		}
		c.encoder = nil
	}

	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close microphone")
		}
		c.stream = nil
	}

	if c.scheduler != nil {
		c.scheduler.Interrupt()
		c.lastStats = c.scheduler.Stats()
		c.scheduler = nil
	}

	if c.out != nil {
		if err := c.out.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close speaker")
		}
		c.out = nil
	}

	if c.sess != nil {
		if err := c.sess.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session")
		}
		c.sess = nil
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) applyVolume() {
	if vc, ok := c.out.(output.VolumeControl); ok {
		vc.SetVolume(c.volume)
		vc.SetMuted(c.muted)
	}
}
