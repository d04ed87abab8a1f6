// ABOUTME: WebSocket transport for the live speech backend
// ABOUTME: Dials BidiGenerateContent, performs setup, and routes frames
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/mentor-go/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultHandshakeTimeout = 45 * time.Second
	closeGracePeriod        = 2 * time.Second
)

// WebSocketDialer opens sessions over a raw websocket
type WebSocketDialer struct {
	Dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer using gorilla's defaults
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{}
}

type wsSession struct {
	*lifecycle

	cancel  context.CancelFunc
	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Open starts connecting in the background and returns the pending session
func (d *WebSocketDialer) Open(ctx context.Context, cfg Config, h Handler) (Session, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}

	endpoint, err := endpointURL(cfg)
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		timeout := cfg.HandshakeTimeout
		if timeout <= 0 {
			timeout = defaultHandshakeTimeout
		}
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: timeout,
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &wsSession{
		lifecycle: newLifecycle(h),
		cancel:    cancel,
	}

	go s.run(runCtx, dialer, endpoint, protocol.NewSetup(cfg.Session))
	return s, nil
}

func endpointURL(cfg Config) (string, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redacted hides the key when logging an endpoint
func redacted(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid>"
	}
	u.RawQuery = ""
	return u.String()
}

func (s *wsSession) run(ctx context.Context, dialer *websocket.Dialer, endpoint string, setup protocol.ClientMessage) {
	defer s.cancel()

	log.Debug().Str("session", s.id).Str("endpoint", redacted(endpoint)).Msg("Connecting")

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial failed (status %d): %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("dial failed: %w", err)
		}
		s.fail(err)
		return
	}

	s.connMu.Lock()
	if s.Phase() >= PhaseClosing {
		s.connMu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.connMu.Unlock()

	if err := s.writeJSON(setup); err != nil {
		s.fail(fmt.Errorf("failed to send setup: %w", err))
		conn.Close()
		return
	}

	go s.writeLoop()
	s.readLoop(conn)
}

// fail terminates with err unless the session is already closing
func (s *wsSession) fail(err error) {
	if s.Phase() >= PhaseClosing {
		return
	}
	log.Debug().Str("session", s.id).Err(err).Msg("Session failed")
	s.terminate(err)
}

func (s *wsSession) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if isNormalClose(err) {
				log.Debug().Str("session", s.id).Msg("Backend closed session")
				if s.beginClose() {
					conn.Close()
				}
				s.terminate(nil)
				return
			}
			s.fail(fmt.Errorf("read failed: %w", err))
			conn.Close()
			return
		}

		// both frame kinds carry JSON
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			log.Warn().Str("session", s.id).Err(err).Msg("Dropping unparseable frame")
			continue
		}

		if msg.SetupComplete != nil {
			log.Debug().Str("session", s.id).Msg("Setup complete")
			s.open()
			continue
		}

		if msg.GoAway != nil {
			log.Warn().Str("session", s.id).Str("time_left", msg.GoAway.TimeLeft).Msg("Backend going away")
		}

		s.message(msg)
	}
}

func (s *wsSession) writeLoop() {
	for {
		select {
		case <-s.done():
			return
		case <-s.wake:
		}

		if !s.isOpen() {
			continue
		}

		for _, block := range s.drain() {
			if err := s.writeJSON(protocol.NewAudioInput(block)); err != nil {
				s.fail(fmt.Errorf("write failed: %w", err))
				return
			}
		}
	}
}

func (s *wsSession) writeJSON(v any) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Close sends a normal close frame and fires OnClose
func (s *wsSession) Close() error {
	if !s.beginClose() {
		return nil
	}

	s.cancel()

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		s.writeMu.Unlock()
		_ = conn.Close()
	}

	s.terminate(nil)
	return nil
}

// isNormalClose reports whether err is an orderly websocket close
func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
}
