// ABOUTME: Entry point for the mentor voice client
// ABOUTME: Parses CLI flags and runs the TUI or a headless session
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/mentor-go/internal/app"
	"github.com/Resonate-Protocol/mentor-go/internal/config"
	"github.com/Resonate-Protocol/mentor-go/internal/logging"
	"github.com/Resonate-Protocol/mentor-go/internal/ui"
	"github.com/Resonate-Protocol/mentor-go/internal/usage"
	"github.com/Resonate-Protocol/mentor-go/internal/version"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
)

var (
	model       = flag.String("model", "", "Backend model (default from MENTOR_MODEL or built-in)")
	voice       = flag.String("voice", "", "Prebuilt voice name")
	endpoint    = flag.String("endpoint", "", "Websocket endpoint override")
	transportFl = flag.String("transport", "", "Transport: websocket or genai")
	outputFl    = flag.String("output", "", "Audio output: malgo, oto or portaudio")
	captureFl   = flag.String("capture", "", "Audio capture: malgo, portaudio or tone")
	inputDevice = flag.String("input-device", "", "Capture device name (portaudio only)")
	volume      = flag.Int("volume", -1, "Initial output volume 0-100")
	usageFile   = flag.String("usage-file", "", "Usage record path")
	logFile     = flag.String("log-file", "mentor-go.log", "Log file path")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI; start one session and stream logs")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	useTUI := !*noTUI

	// TUI mode logs only to file; headless mode also logs to the console
	closer, err := logging.New(logging.Options{Path: *logFile, Console: !useTUI, Debug: *debug})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	cfg := config.Load()
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", version.Version).
		Str("model", cfg.Model).
		Str("transport", cfg.Transport).
		Str("output", cfg.Output).
		Str("capture", cfg.Capture).
		Msg("Starting mentor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// TUI setup; the program must be running before anything sends to it
	var tuiProg *tea.Program
	var control *ui.Control

	if useTUI {
		control = ui.NewControl()
		var tuiDone <-chan error
		tuiProg, tuiDone = ui.Run(control, cfg.Volume)
		go func() {
			if err := <-tuiDone; err != nil {
				log.Error().Err(err).Msg("TUI exited with error")
			}
			cancel()
		}()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	mentor, err := app.New(cfg, app.Deps{}, updateTUI)
	if err != nil {
		if tuiProg != nil {
			tuiProg.Quit()
		}
		log.Fatal().Err(err).Msg("Failed to create app")
	}

	go mentor.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if useTUI {
		runInteractive(ctx, mentor, control, sigChan)
	} else {
		runHeadless(mentor, sigChan)
	}

	if err := mentor.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing session")
	}
	if tuiProg != nil {
		tuiProg.Quit()
	}
	log.Info().Msg("Mentor stopped")
}

// runInteractive handles TUI input until the user quits
func runInteractive(ctx context.Context, mentor *app.App, control *ui.Control, sigChan <-chan os.Signal) {
	for {
		select {
		case <-control.Toggle:
			mentor.Toggle()
		case vol := <-control.Changes:
			mentor.SetVolume(vol.Volume, vol.Muted)
		case <-control.Quit:
			log.Info().Msg("Received quit signal from TUI")
			return
		case <-sigChan:
			log.Info().Msg("Shutdown signal received")
			return
		case <-ctx.Done():
			return
		}
	}
}

// runHeadless starts one session and waits for it to end or a signal
func runHeadless(mentor *app.App, sigChan <-chan os.Signal) {
	decision, err := mentor.Start()
	if err != nil {
		log.Error().Err(err).Msg("Failed to start session")
		return
	}
	if !decision.Allowed {
		log.Warn().
			Int("uses", decision.UsesCount).
			Str("remaining", usage.FormatRemaining(decision.Remaining)).
			Msg("Usage limit reached, try again later")
		return
	}

	select {
	case <-mentor.Ended():
		log.Info().Msg("Session ended")
	case <-sigChan:
		log.Info().Msg("Shutdown signal received")
	}
}

func applyFlags(cfg *config.Config) {
	if *model != "" {
		cfg.Model = *model
	}
	if *voice != "" {
		cfg.Voice = *voice
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *transportFl != "" {
		cfg.Transport = *transportFl
	}
	if *outputFl != "" {
		cfg.Output = *outputFl
	}
	if *captureFl != "" {
		cfg.Capture = *captureFl
	}
	if *inputDevice != "" {
		cfg.CaptureDevice = *inputDevice
	}
	if *volume >= 0 {
		cfg.Volume = *volume
	}
	if *usageFile != "" {
		cfg.UsageFile = *usageFile
	}
}
