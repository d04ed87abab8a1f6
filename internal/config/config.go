// ABOUTME: Application configuration
// ABOUTME: Loads settings from .env and the environment with defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/mentor-go/internal/transport"
	"github.com/Resonate-Protocol/mentor-go/internal/usage"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/output"
	"github.com/Resonate-Protocol/mentor-go/pkg/protocol"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice = "Charon"

	DefaultSystemInstruction = "You are a calm, direct mentor. Greet the user briefly, " +
		"listen carefully and answer in short spoken replies."

	DefaultHandshakeTimeout = 15 * time.Second
)

// Config holds application configuration
type Config struct {
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
	Endpoint          string
	HandshakeTimeout  time.Duration

	Transport     string
	Output        string
	Capture       string
	CaptureDevice string
	Volume        int

	UsageFile string
}

// Load reads .env if present, then the environment
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := Config{
		APIKey:            firstEnv("GEMINI_API_KEY", "API_KEY"),
		Model:             envOr("MENTOR_MODEL", DefaultModel),
		Voice:             envOr("MENTOR_VOICE", DefaultVoice),
		SystemInstruction: envOr("MENTOR_SYSTEM_INSTRUCTION", DefaultSystemInstruction),
		Endpoint:          envOr("MENTOR_ENDPOINT", transport.DefaultEndpoint),
		HandshakeTimeout:  DefaultHandshakeTimeout,
		Transport:         envOr("MENTOR_TRANSPORT", transport.DialerWebSocket),
		Output:            envOr("MENTOR_OUTPUT", output.BackendMalgo),
		Capture:           envOr("MENTOR_CAPTURE", capture.DeviceMalgo),
		CaptureDevice:     os.Getenv("MENTOR_CAPTURE_DEVICE"),
		Volume:            100,
		UsageFile:         envOr("MENTOR_USAGE_FILE", usage.DefaultPath()),
	}

	if v := os.Getenv("MENTOR_VOLUME"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("value", v).Msg("Ignoring invalid MENTOR_VOLUME")
		} else {
			cfg.Volume = n
		}
	}

	if v := os.Getenv("MENTOR_HANDSHAKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Warn().Str("value", v).Msg("Ignoring invalid MENTOR_HANDSHAKE_TIMEOUT")
		} else {
			cfg.HandshakeTimeout = d
		}
	}

	if cfg.APIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY not set - sessions will fail to connect")
	}

	return cfg
}

// Validate checks names and ranges
func (c Config) Validate() error {
	switch c.Transport {
	case transport.DialerWebSocket, transport.DialerGenAI:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)",
			c.Transport, transport.DialerWebSocket, transport.DialerGenAI)
	}

	switch c.Output {
	case output.BackendMalgo, output.BackendOto, output.BackendPortAudio:
	default:
		return fmt.Errorf("unknown output backend %q", c.Output)
	}

	switch c.Capture {
	case capture.DeviceMalgo, capture.DevicePortAudio, capture.DeviceTone:
	default:
		return fmt.Errorf("unknown capture device %q", c.Capture)
	}

	if c.Volume < 0 || c.Volume > 100 {
		return fmt.Errorf("volume must be 0-100, got %d", c.Volume)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model must not be empty")
	}
	return nil
}

// TransportConfig returns the settings used to open a session
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		APIKey:   c.APIKey,
		Endpoint: c.Endpoint,
		Session: protocol.SessionConfig{
			Model:             c.Model,
			Voice:             c.Voice,
			SystemInstruction: c.SystemInstruction,
		},
		HandshakeTimeout: c.HandshakeTimeout,
	}
}

// CaptureConfig returns the microphone settings
func (c Config) CaptureConfig() capture.Config {
	cfg := capture.DefaultConfig()
	cfg.DeviceName = c.CaptureDevice
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
