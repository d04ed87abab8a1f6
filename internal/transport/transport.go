// ABOUTME: Transport session contract for the live speech backend
// ABOUTME: Defines Dialer, Session, Handler and the shared lifecycle guard
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
	"github.com/Resonate-Protocol/mentor-go/pkg/protocol"
	"github.com/google/uuid"
)

var (
	// ErrMissingCredential is returned by Open when no API key is configured
	ErrMissingCredential = errors.New("missing API key")

	// ErrSessionClosed is returned by Send after the session terminated
	ErrSessionClosed = errors.New("session closed")
)

// DefaultEndpoint is the BidiGenerateContent websocket endpoint
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Config is fixed when a session is opened
type Config struct {
	APIKey           string
	Endpoint         string // websocket transport only
	Session          protocol.SessionConfig
	HandshakeTimeout time.Duration
}

// Handler receives session events. OnOpen fires at most once. OnClose and
// OnError are mutually exclusive and each session ends with exactly one of
// them. Callbacks run on transport goroutines.
type Handler struct {
	OnOpen    func()
	OnMessage func(msg *protocol.ServerMessage)
	OnClose   func()
	OnError   func(err error)
}

// Session is one connection to the backend. Handles are never reused.
type Session interface {
	// ID uniquely identifies this handle
	ID() string

	// Send queues a block. Blocks sent before the session opens are
	// delivered in order once it does.
	Send(block audio.EncodedBlock) error

	// Close ends the session. It is idempotent and fires OnClose unless
	// the session already terminated.
	Close() error

	// Phase reports the lifecycle phase
	Phase() Phase
}

// Dialer opens sessions. Open returns immediately with a pending session;
// connection and setup continue in the background.
type Dialer interface {
	Open(ctx context.Context, cfg Config, h Handler) (Session, error)
}

// Dialer names
const (
	DialerWebSocket = "websocket"
	DialerGenAI     = "genai"
)

// NewDialer returns the dialer registered under name
func NewDialer(name string) (Dialer, error) {
	switch name {
	case "", DialerWebSocket:
		return NewWebSocketDialer(), nil
	case DialerGenAI:
		return NewGenAIDialer(), nil
	default:
		return nil, fmt.Errorf("unknown transport: %q", name)
	}
}

// Phase is a session lifecycle phase
type Phase int32

const (
	PhaseOpening Phase = iota
	PhaseOpen
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpening:
		return "opening"
	case PhaseOpen:
		return "open"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// lifecycle is the state shared by every Session implementation: the
// terminal guard, the outbound FIFO and the writer wakeup.
type lifecycle struct {
	id      string
	handler Handler

	mu         sync.Mutex
	phase      Phase
	terminated atomic.Bool
	outbox     []audio.EncodedBlock

	wake    chan struct{}
	closing chan struct{}
	once    sync.Once
}

func newLifecycle(h Handler) *lifecycle {
	return &lifecycle{
		id:      uuid.New().String(),
		handler: h,
		phase:   PhaseOpening,
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
}

func (l *lifecycle) ID() string {
	return l.id
}

func (l *lifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

func (l *lifecycle) isOpen() bool {
	return l.Phase() == PhaseOpen
}

func (l *lifecycle) Send(block audio.EncodedBlock) error {
	l.mu.Lock()
	if l.phase >= PhaseClosing {
		l.mu.Unlock()
		return ErrSessionClosed
	}
	l.outbox = append(l.outbox, block)
	l.mu.Unlock()

	l.signal()
	return nil
}

func (l *lifecycle) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// drain takes every queued block in FIFO order
func (l *lifecycle) drain() []audio.EncodedBlock {
	l.mu.Lock()
	defer l.mu.Unlock()
	blocks := l.outbox
	l.outbox = nil
	return blocks
}

// open moves Opening to Open and fires OnOpen
func (l *lifecycle) open() {
	l.mu.Lock()
	if l.phase != PhaseOpening {
		l.mu.Unlock()
		return
	}
	l.phase = PhaseOpen
	l.mu.Unlock()

	if !l.terminated.Load() && l.handler.OnOpen != nil {
		l.handler.OnOpen()
	}
	l.signal()
}

func (l *lifecycle) message(msg *protocol.ServerMessage) {
	if !l.terminated.Load() && l.handler.OnMessage != nil {
		l.handler.OnMessage(msg)
	}
}

// beginClose marks the session Closing. It reports false when the session
// is already closing or terminated.
func (l *lifecycle) beginClose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase >= PhaseClosing {
		return false
	}
	l.phase = PhaseClosing
	return true
}

// terminate ends the session once, with OnClose for a nil error and
// OnError otherwise
func (l *lifecycle) terminate(err error) {
	l.once.Do(func() {
		l.terminated.Store(true)

		l.mu.Lock()
		l.phase = PhaseClosed
		l.outbox = nil
		l.mu.Unlock()
		close(l.closing)

		if err == nil {
			if l.handler.OnClose != nil {
				l.handler.OnClose()
			}
			return
		}
		if l.handler.OnError != nil {
			l.handler.OnError(err)
		}
	})
}

func (l *lifecycle) done() <-chan struct{} {
	return l.closing
}
