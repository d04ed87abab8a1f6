// ABOUTME: Audio output package for scheduled speech playback
// ABOUTME: Provides the Device interface, the software Mixer and hardware backends
// Package output provides clocked audio playback.
//
// A Device exposes a monotonic clock and lets callers schedule buffers at
// exact device times, which is what gapless streaming playback needs. The
// Mixer implements Device in software and is driven by a Backend:
// malgo (default), oto, or PortAudio when built with -tags portaudio.
//
// Example:
//
//	player, err := output.Open(output.BackendMalgo, audio.PlaybackFormat)
//	src, err := player.Start(buf, player.Now(), func() { fmt.Println("done") })
//	_ = src.Stop()
package output
