// ABOUTME: Live speech protocol message type definitions
// ABOUTME: Defines the BidiGenerateContent setup, realtime input and server messages
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
)

// ModalityAudio requests spoken responses
const ModalityAudio = "AUDIO"

// ClientMessage is the top-level wrapper for outbound messages. Exactly one
// field is set.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
}

// Setup is the first message on a connection and fixes the session config
type Setup struct {
	Model             string            `json:"model"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
}

// GenerationConfig selects response modalities and voice
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig wraps the voice selection
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

// VoiceConfig selects a voice
type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

// PrebuiltVoiceConfig names one of the backend's voices
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// Content is a turn made of parts
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part carries text or inline media
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob is base64 media with its MIME type
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// RealtimeInput streams media to the backend
type RealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks"`
}

// ServerMessage is the top-level wrapper for inbound messages
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// SetupComplete acknowledges Setup; the session is open after it arrives
type SetupComplete struct{}

// ServerContent carries model output and turn signals
type ServerContent struct {
	ModelTurn          *Content `json:"modelTurn,omitempty"`
	TurnComplete       bool     `json:"turnComplete,omitempty"`
	GenerationComplete bool     `json:"generationComplete,omitempty"`
	Interrupted        bool     `json:"interrupted,omitempty"`
}

// GoAway warns that the backend will close the connection soon
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// SessionConfig is fixed when a session is opened
type SessionConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
}

// ModelResource returns model in the "models/<name>" form the backend expects
func ModelResource(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// NewSetup builds the setup message for cfg
func NewSetup(cfg SessionConfig) ClientMessage {
	setup := &Setup{
		Model: ModelResource(cfg.Model),
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{ModalityAudio},
		},
	}

	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: &VoiceConfig{
				PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &Content{
			Parts: []Part{{Text: cfg.SystemInstruction}},
		}
	}

	return ClientMessage{Setup: setup}
}

// NewAudioInput wraps an encoded capture block as realtime input
func NewAudioInput(block audio.EncodedBlock) ClientMessage {
	return ClientMessage{
		RealtimeInput: &RealtimeInput{
			MediaChunks: []Blob{{
				MIMEType: audio.CaptureMIMEType,
				Data:     block.Data,
			}},
		},
	}
}

// ParseServerMessage decodes one inbound frame
func ParseServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse server message: %w", err)
	}
	return &msg, nil
}

// AudioPayload returns the base64 audio of the first model turn part
func (m *ServerMessage) AudioPayload() (string, bool) {
	if m == nil || m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return "", false
	}
	parts := m.ServerContent.ModelTurn.Parts
	if len(parts) == 0 || parts[0].InlineData == nil || parts[0].InlineData.Data == "" {
		return "", false
	}
	return parts[0].InlineData.Data, true
}

// Interrupted reports whether the backend cut its own output short
func (m *ServerMessage) Interrupted() bool {
	return m != nil && m.ServerContent != nil && m.ServerContent.Interrupted
}
