// ABOUTME: GenAI SDK transport for the live speech backend
// ABOUTME: Wraps genai Live sessions behind the Session contract
package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
	"github.com/Resonate-Protocol/mentor-go/pkg/protocol"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// GenAIDialer opens sessions through the genai Live API
type GenAIDialer struct{}

// NewGenAIDialer creates a genai dialer
func NewGenAIDialer() *GenAIDialer {
	return &GenAIDialer{}
}

type genaiSession struct {
	*lifecycle

	cancel context.CancelFunc
	liveMu sync.Mutex
	live   *genai.Session
}

// Open starts connecting in the background and returns the pending session
func (d *GenAIDialer) Open(ctx context.Context, cfg Config, h Handler) (Session, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &genaiSession{
		lifecycle: newLifecycle(h),
		cancel:    cancel,
	}

	go s.run(runCtx, cfg)
	return s, nil
}

// liveConfig maps the session config onto the SDK's connect options
func liveConfig(cfg protocol.SessionConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	return lc
}

func (s *genaiSession) run(ctx context.Context, cfg Config) {
	defer s.cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		s.fail(fmt.Errorf("failed to create genai client: %w", err))
		return
	}

	live, err := client.Live.Connect(ctx, cfg.Session.Model, liveConfig(cfg.Session))
	if err != nil {
		s.fail(fmt.Errorf("live connect failed: %w", err))
		return
	}

	s.liveMu.Lock()
	if s.Phase() >= PhaseClosing {
		s.liveMu.Unlock()
		live.Close()
		return
	}
	s.live = live
	s.liveMu.Unlock()

	// the SDK consumes setupComplete inside Connect
	s.open()

	go s.writeLoop(live)
	s.readLoop(live)
}

func (s *genaiSession) fail(err error) {
	if s.Phase() >= PhaseClosing {
		return
	}
	log.Debug().Str("session", s.id).Err(err).Msg("Session failed")
	s.terminate(err)
}

func (s *genaiSession) readLoop(live *genai.Session) {
	for {
		msg, err := live.Receive()
		if err != nil {
			if isNormalClose(err) {
				if s.beginClose() {
					live.Close()
				}
				s.terminate(nil)
				return
			}
			s.fail(fmt.Errorf("receive failed: %w", err))
			live.Close()
			return
		}

		if msg.SetupComplete != nil {
			continue
		}
		if msg.GoAway != nil {
			log.Warn().Str("session", s.id).Interface("time_left", msg.GoAway.TimeLeft).Msg("Backend going away")
		}

		s.message(fromLive(msg))
	}
}

func (s *genaiSession) writeLoop(live *genai.Session) {
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
			input, err := realtimeInput(block)
			if err != nil {
				log.Warn().Str("session", s.id).Uint64("seq", block.Seq).Err(err).Msg("Dropping unencodable block")
				continue
			}
			if err := live.SendRealtimeInput(input); err != nil {
				s.fail(fmt.Errorf("send failed: %w", err))
				return
			}
		}
	}
}

// realtimeInput converts a block back to raw PCM for the SDK
func realtimeInput(block audio.EncodedBlock) (genai.LiveRealtimeInput, error) {
	pcm, err := base64.StdEncoding.DecodeString(block.Data)
	if err != nil {
		return genai.LiveRealtimeInput{}, fmt.Errorf("invalid block encoding: %w", err)
	}
	return genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: audio.CaptureMIMEType,
			Data:     pcm,
		},
	}, nil
}

// fromLive maps an SDK message to the wire message shape, re-encoding
// inline audio so both transports feed the same inbound path
func fromLive(m *genai.LiveServerMessage) *protocol.ServerMessage {
	out := &protocol.ServerMessage{}
	if m == nil {
		return out
	}
	if m.SetupComplete != nil {
		out.SetupComplete = &protocol.SetupComplete{}
	}

	sc := m.ServerContent
	if sc == nil {
		return out
	}

	out.ServerContent = &protocol.ServerContent{
		TurnComplete:       sc.TurnComplete,
		GenerationComplete: sc.GenerationComplete,
		Interrupted:        sc.Interrupted,
	}

	if sc.ModelTurn != nil {
		turn := &protocol.Content{Role: sc.ModelTurn.Role}
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			part := protocol.Part{Text: p.Text}
			if p.InlineData != nil {
				part.InlineData = &protocol.Blob{
					MIMEType: p.InlineData.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
				}
			}
			turn.Parts = append(turn.Parts, part)
		}
		out.ServerContent.ModelTurn = turn
	}

	return out
}

// Close ends the SDK session and fires OnClose
func (s *genaiSession) Close() error {
	if !s.beginClose() {
		return nil
	}

	s.cancel()

	s.liveMu.Lock()
	live := s.live
	s.liveMu.Unlock()

	if live != nil {
		if err := live.Close(); err != nil {
			log.Debug().Str("session", s.id).Err(err).Msg("Live session close error")
		}
	}

	s.terminate(nil)
	return nil
}
