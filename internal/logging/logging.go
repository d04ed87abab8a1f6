// ABOUTME: Logger setup
// ABOUTME: Writes JSON logs to a file and optionally mirrors them to the console
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures logging
type Options struct {
	Path    string // log file, created if missing
	Console bool   // also write human-readable logs to stderr
	Debug   bool
}

// New opens the log file and installs the global logger. The returned
// closer closes the file.
func New(opts Options) (io.Closer, error) {
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	logFile, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	log.Logger = newLogger(logFile, opts)
	return logFile, nil
}

func newLogger(file io.Writer, opts Options) zerolog.Logger {
	var w io.Writer = file
	if opts.Console {
		w = zerolog.MultiLevelWriter(
			zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			file,
		)
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
