// ABOUTME: Tests for mentor application orchestration
// ABOUTME: Drives the gate and controller together with fake devices
package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/mentor-go/internal/config"
	"github.com/Resonate-Protocol/mentor-go/internal/session"
	"github.com/Resonate-Protocol/mentor-go/internal/transport"
	"github.com/Resonate-Protocol/mentor-go/internal/ui"
	"github.com/Resonate-Protocol/mentor-go/internal/usage"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/output"
	tea "github.com/charmbracelet/bubbletea"
)

type nullStream struct{}

func (nullStream) Start(func([]float32)) error { return nil }
func (nullStream) Stop() error                 { return nil }
func (nullStream) Close() error                { return nil }
func (nullStream) SampleRate() int             { return audio.CaptureSampleRate }

type nullCapture struct{}

func (nullCapture) Open(capture.Config) (capture.Stream, error) { return nullStream{}, nil }
func (nullCapture) Name() string                                { return "null" }

type stubSession struct {
	h transport.Handler
}

func (s *stubSession) ID() string                    { return "stub" }
func (s *stubSession) Phase() transport.Phase        { return transport.PhaseOpen }
func (s *stubSession) Send(audio.EncodedBlock) error { return nil }
func (s *stubSession) Close() error                  { return nil }

type stubDialer struct {
	mu       sync.Mutex
	sessions []*stubSession
}

func (d *stubDialer) Open(ctx context.Context, cfg transport.Config, h transport.Handler) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &stubSession{h: h}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *stubDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *stubDialer) last() *stubSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1]
}

type failingStore struct {
	usage.MemoryStore
}

func (s *failingStore) Save(usage.Record) error { return errors.New("read-only filesystem") }

type recorder struct {
	mu   sync.Mutex
	msgs []ui.StatusMsg
}

func (r *recorder) update(msg ui.StatusMsg) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) lastGate() (usage.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Gate != nil {
			return *r.msgs[i].Gate, true
		}
	}
	return usage.Status{}, false
}

func (r *recorder) lastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Error != nil {
			return *r.msgs[i].Error
		}
	}
	return ""
}

func testConfig() config.Config {
	return config.Config{
		APIKey:    "test-key",
		Model:     config.DefaultModel,
		Voice:     config.DefaultVoice,
		Transport: transport.DialerWebSocket,
		Output:    output.BackendMalgo,
		Capture:   capture.DeviceTone,
		Volume:    100,
	}
}

func newTestApp(t *testing.T, store usage.Store) (*App, *stubDialer, *recorder) {
	t.Helper()
	dialer := &stubDialer{}
	rec := &recorder{}

	a, err := New(testConfig(), Deps{
		Dialer:  dialer,
		Capture: nullCapture{},
		OpenOutput: func() (output.Device, error) {
			return output.NewMixer(audio.PlaybackFormat), nil
		},
		Store: store,
	}, rec.update)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, dialer, rec
}

func waitEnded(t *testing.T, a *App) {
	t.Helper()
	select {
	case <-a.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestNewPublishesGateStatus(t *testing.T) {
	_, _, rec := newTestApp(t, usage.NewMemoryStore(usage.Record{UsesCount: 2}))

	status, ok := rec.lastGate()
	if !ok {
		t.Fatal("expected initial gate status")
	}
	if status.UsesCount != 2 || status.MaxUses != usage.MaxUses {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestStartCountsAndConnects(t *testing.T) {
	store := usage.NewMemoryStore(usage.Record{})
	a, dialer, _ := newTestApp(t, store)

	d, err := a.Start()
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !d.Allowed || d.UsesCount != 1 {
		t.Errorf("unexpected decision %+v", d)
	}
	if dialer.count() != 1 {
		t.Fatalf("expected one session, got %d", dialer.count())
	}
	if a.State() != session.StateConnecting {
		t.Errorf("expected connecting, got %s", a.State())
	}

	if _, err := a.Start(); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	r, _ := store.Load()
	if r.UsesCount != 1 {
		t.Errorf("expected persisted count 1, got %d", r.UsesCount)
	}
}

func TestLastSessionBlocksAfterEnd(t *testing.T) {
	a, dialer, rec := newTestApp(t, usage.NewMemoryStore(usage.Record{UsesCount: 4}))

	d, err := a.Start()
	if err != nil || !d.Allowed || d.UsesCount != 5 {
		t.Fatalf("expected fifth start allowed, got %+v %v", d, err)
	}

	dialer.last().h.OnOpen()
	if a.State() != session.StateActive {
		t.Fatalf("expected active, got %s", a.State())
	}
	if a.Gate().Status().State != usage.StateAllowed {
		t.Error("the last session must not be blocked while it runs")
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	waitEnded(t, a)

	status, _ := rec.lastGate()
	if status.State != usage.StateBlocked {
		t.Fatalf("expected blocked after the last session, got %+v", status)
	}

	d, err = a.Start()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed || d.Remaining <= 0 {
		t.Errorf("expected denial with remaining time, got %+v", d)
	}
	if dialer.count() != 1 {
		t.Errorf("denied start must not dial, got %d sessions", dialer.count())
	}
}

func TestSaveFailurePreventsSession(t *testing.T) {
	a, dialer, rec := newTestApp(t, &failingStore{})

	d, err := a.Start()
	if err == nil || d.Allowed {
		t.Fatalf("expected denial with error, got %+v %v", d, err)
	}
	if dialer.count() != 0 {
		t.Error("session opened without counting the use")
	}
	if rec.lastError() == "" {
		t.Error("expected error published to the UI")
	}
}

func TestToggle(t *testing.T) {
	a, dialer, _ := newTestApp(t, usage.NewMemoryStore(usage.Record{}))

	a.Toggle()
	if dialer.count() != 1 {
		t.Fatalf("expected toggle to start a session")
	}
	dialer.last().h.OnOpen()

	a.Toggle()
	waitEnded(t, a)
	if a.State() != session.StateIdle {
		t.Errorf("expected idle after second toggle, got %s", a.State())
	}
}

func TestTransportErrorPublished(t *testing.T) {
	a, dialer, rec := newTestApp(t, usage.NewMemoryStore(usage.Record{}))

	a.Start()
	dialer.last().h.OnError(errors.New("handshake rejected"))
	waitEnded(t, a)

	// OnError follows OnDisconnect on the loop; Snapshot waits for it
	a.ctrl.Snapshot()
	if msg := rec.lastError(); msg == "" {
		t.Error("expected transport error in the UI")
	}
	if a.State() != session.StateIdle {
		t.Errorf("expected idle, got %s", a.State())
	}
}

func TestRunPublishesStats(t *testing.T) {
	a, _, rec := newTestApp(t, usage.NewMemoryStore(usage.Record{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		rec.mu.Lock()
		found := false
		for _, m := range rec.msgs {
			if m.Playback != nil {
				found = true
			}
		}
		rec.mu.Unlock()
		if found {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("no stats published")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestConcurrentStartsCountOneUse(t *testing.T) {
	store := usage.NewMemoryStore(usage.Record{})
	a, dialer, _ := newTestApp(t, store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed, busy := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := a.Start()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrBusy):
				busy++
			case err == nil && d.Allowed:
				allowed++
			}
		}()
	}
	wg.Wait()

	if allowed != 1 || busy != 7 {
		t.Errorf("expected 1 start and 7 busy, got %d and %d", allowed, busy)
	}
	if dialer.count() != 1 {
		t.Errorf("expected one session, got %d", dialer.count())
	}
	if r, _ := store.Load(); r.UsesCount != 1 {
		t.Errorf("expected one counted use, got %d", r.UsesCount)
	}
}

func TestNewWithRunningTUI(t *testing.T) {
	prog, done := ui.Run(ui.NewControl(), 80,
		tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutSignalHandler())

	created := make(chan *App, 1)
	go func() {
		a, err := New(testConfig(), Deps{
			Dialer:  &stubDialer{},
			Capture: nullCapture{},
			OpenOutput: func() (output.Device, error) {
				return output.NewMixer(audio.PlaybackFormat), nil
			},
			Store: usage.NewMemoryStore(usage.Record{}),
		}, func(msg ui.StatusMsg) { prog.Send(msg) })
		if err != nil {
			t.Errorf("failed to create app: %v", err)
		}
		created <- a
	}()

	var a *App
	select {
	case a = <-created:
	case <-time.After(2 * time.Second):
		t.Fatal("app creation blocked on the TUI")
	}
	if a == nil {
		return
	}

	if _, err := a.Start(); err != nil {
		t.Errorf("start failed: %v", err)
	}
	a.Close()

	prog.Quit()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("TUI did not exit")
	}
}
