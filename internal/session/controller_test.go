// ABOUTME: Tests for the streaming session controller
// ABOUTME: Drives the state machine with fake devices and a fake transport
package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Resonate-Protocol/mentor-go/internal/transport"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/capture"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/encode"
	"github.com/Resonate-Protocol/mentor-go/pkg/audio/output"
	"github.com/Resonate-Protocol/mentor-go/pkg/protocol"
)

// journal records teardown steps across fakes
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeStream struct {
	j        *journal
	mu       sync.Mutex
	onFrames func([]float32)
}

func (s *fakeStream) Start(onFrames func([]float32)) error {
	s.mu.Lock()
	s.onFrames = onFrames
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.onFrames = nil
	s.mu.Unlock()
	s.j.add("capture.stop")
	return nil
}

func (s *fakeStream) Close() error {
	s.j.add("capture.close")
	return nil
}

func (s *fakeStream) SampleRate() int { return audio.CaptureSampleRate }

func (s *fakeStream) push(samples []float32) {
	s.mu.Lock()
	fn := s.onFrames
	s.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

type fakeCapture struct {
	j       *journal
	err     error
	streams []*fakeStream
}

func (d *fakeCapture) Name() string { return "fake" }

func (d *fakeCapture) Open(cfg capture.Config) (capture.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{j: d.j}
	d.streams = append(d.streams, s)
	return s, nil
}

type fakeOutput struct {
	*output.Mixer
	j *journal
}

func (o *fakeOutput) Close() error {
	o.j.add("output.close")
	return o.Mixer.Close()
}

type fakeSession struct {
	id string
	h  transport.Handler
	j  *journal

	mu     sync.Mutex
	sent   []audio.EncodedBlock
	closes int
}

func (s *fakeSession) ID() string              { return s.id }
func (s *fakeSession) Phase() transport.Phase { return transport.PhaseOpen }

func (s *fakeSession) Send(block audio.EncodedBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return transport.ErrSessionClosed
	}
	s.sent = append(s.sent, block)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	first := s.closes == 1
	s.mu.Unlock()

	s.j.add("transport.close")
	if first && s.h.OnClose != nil {
		s.h.OnClose()
	}
	return nil
}

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeDialer struct {
	j        *journal
	err      error
	sessions []*fakeSession
}

func (d *fakeDialer) Open(ctx context.Context, cfg transport.Config, h transport.Handler) (transport.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeSession{id: "s" + string(rune('0'+len(d.sessions))), h: h, j: d.j}
	d.sessions = append(d.sessions, s)
	return s, nil
}

// harness wires a controller to fakes and records owner notifications
type harness struct {
	t       *testing.T
	j       *journal
	capture *fakeCapture
	dialer  *fakeDialer
	outputs []*fakeOutput
	c       *Controller

	mu          sync.Mutex
	states      []State
	connects    int
	disconnects int
	volumes     []float64
	errs        []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, j: &journal{}}
	h.capture = &fakeCapture{j: h.j}
	h.dialer = &fakeDialer{j: h.j}

	h.c = New(Config{
		Dialer:  h.dialer,
		Capture: h.capture,
		OpenOutput: func() (output.Device, error) {
			o := &fakeOutput{Mixer: output.NewMixer(audio.PlaybackFormat), j: h.j}
			h.outputs = append(h.outputs, o)
			return o, nil
		},
		OnStateChange: func(s State) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		},
		OnConnect: func() {
			h.mu.Lock()
			h.connects++
			h.mu.Unlock()
		},
		OnDisconnect: func() {
			h.mu.Lock()
			h.disconnects++
			h.mu.Unlock()
		},
		OnVolume: func(v float64) {
			h.mu.Lock()
			h.volumes = append(h.volumes, v)
			h.mu.Unlock()
		},
		OnError: func(err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		},
	})
	t.Cleanup(func() { h.c.Close() })
	return h
}

// sync waits until every previously posted event has run
func (h *harness) sync() Snapshot {
	return h.c.Snapshot()
}

func (h *harness) session(i int) *fakeSession {
	h.t.Helper()
	if len(h.dialer.sessions) <= i {
		h.t.Fatalf("session %d was never opened", i)
	}
	return h.dialer.sessions[i]
}

func (h *harness) connectActive() *fakeSession {
	h.t.Helper()
	if err := h.c.Connect(); err != nil {
		h.t.Fatalf("connect failed: %v", err)
	}
	s := h.session(len(h.dialer.sessions) - 1)
	s.h.OnOpen()
	if snap := h.sync(); snap.State != StateActive {
		h.t.Fatalf("expected active, got %s", snap.State)
	}
	return s
}

func (h *harness) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func TestConnectReachesActive(t *testing.T) {
	h := newHarness(t)

	if err := h.c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if snap := h.sync(); snap.State != StateConnecting {
		t.Fatalf("expected connecting before open, got %s", snap.State)
	}

	s := h.session(0)
	s.h.OnOpen()
	snap := h.sync()

	if snap.State != StateActive {
		t.Errorf("expected active, got %s", snap.State)
	}
	if snap.SessionID != s.ID() {
		t.Errorf("expected session %s, got %s", s.ID(), snap.SessionID)
	}
	if h.connects != 1 {
		t.Errorf("expected one OnConnect, got %d", h.connects)
	}

	want := []State{StateConnecting, StateActive}
	if len(h.states) != len(want) || h.states[0] != want[0] || h.states[1] != want[1] {
		t.Errorf("expected states %v, got %v", want, h.states)
	}
}

func TestConnectWhenNotIdle(t *testing.T) {
	h := newHarness(t)
	h.connectActive()

	if err := h.c.Connect(); !errors.Is(err, ErrNotIdle) {
		t.Errorf("expected ErrNotIdle, got %v", err)
	}
	if len(h.dialer.sessions) != 1 {
		t.Errorf("expected one session, got %d", len(h.dialer.sessions))
	}
}

func TestCapturedBlocksFlowAfterOpen(t *testing.T) {
	h := newHarness(t)

	s := h.connectActive()
	stream := h.capture.streams[0]

	samples := make([]float32, audio.BlockSize*2)
	for i := range samples {
		samples[i] = 0.1
	}
	stream.push(samples)

	if s.sentCount() != 2 {
		t.Fatalf("expected 2 blocks sent, got %d", s.sentCount())
	}
	if s.sent[0].Seq != 0 || s.sent[1].Seq != 1 {
		t.Errorf("blocks out of order: %d, %d", s.sent[0].Seq, s.sent[1].Seq)
	}

	snap := h.sync()
	if snap.BlocksSent != 2 {
		t.Errorf("expected 2 blocks in snapshot, got %d", snap.BlocksSent)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.volumes) != 2 || h.volumes[0] < 0.49 || h.volumes[0] > 0.51 {
		t.Errorf("expected two volume readings of 0.5, got %v", h.volumes)
	}
}

func TestInboundAudioAndInterrupt(t *testing.T) {
	h := newHarness(t)
	s := h.connectActive()

	chunk := encode.Text(make([]byte, 2400*2)) // 100ms at 24kHz
	audioMsg := &protocol.ServerMessage{ServerContent: &protocol.ServerContent{
		ModelTurn: &protocol.Content{Parts: []protocol.Part{{InlineData: &protocol.Blob{Data: chunk}}}},
	}}

	s.h.OnMessage(audioMsg)
	s.h.OnMessage(audioMsg)
	snap := h.sync()
	if snap.Playback.Scheduled != 2 || snap.Playback.Outstanding != 2 {
		t.Fatalf("expected 2 scheduled and outstanding, got %+v", snap.Playback)
	}
	if snap.Playback.QueuedAhead != 200_000_000 {
		t.Errorf("expected 200ms queued, got %v", snap.Playback.QueuedAhead)
	}

	s.h.OnMessage(&protocol.ServerMessage{ServerContent: &protocol.ServerContent{Interrupted: true}})
	snap = h.sync()
	if snap.Playback.Outstanding != 0 {
		t.Errorf("expected interrupt to flush, got %d outstanding", snap.Playback.Outstanding)
	}
	if snap.Playback.Interrupted != 2 {
		t.Errorf("expected 2 interrupted, got %d", snap.Playback.Interrupted)
	}
	if snap.State != StateActive {
		t.Errorf("interrupt must not end the session, got %s", snap.State)
	}
}

func TestDecodeErrorIsNotFatal(t *testing.T) {
	h := newHarness(t)
	s := h.connectActive()

	s.h.OnMessage(&protocol.ServerMessage{ServerContent: &protocol.ServerContent{
		ModelTurn: &protocol.Content{Parts: []protocol.Part{{InlineData: &protocol.Blob{Data: "%%%"}}}},
	}})
	snap := h.sync()

	if snap.State != StateActive {
		t.Errorf("expected session to stay active, got %s", snap.State)
	}
	errs := h.errors()
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %d", len(errs))
	}
	var serr *Error
	if !errors.As(errs[0], &serr) || serr.Kind != KindDecode || serr.IsFatal() {
		t.Errorf("expected non-fatal decode error, got %v", errs[0])
	}
	if snap.Playback.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", snap.Playback.Dropped)
	}
}

func TestDisconnectBeforeConnect(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 2; i++ {
		if err := h.c.Disconnect(); err != nil {
			t.Fatalf("disconnect %d failed: %v", i, err)
		}
	}
	if h.c.State() != StateIdle {
		t.Errorf("expected idle, got %s", h.c.State())
	}
	if h.disconnects != 0 {
		t.Errorf("expected no OnDisconnect, got %d", h.disconnects)
	}
}

func TestDisconnectTearsDownInOrder(t *testing.T) {
	h := newHarness(t)
	s := h.connectActive()

	if err := h.c.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if err := h.c.Disconnect(); err != nil {
		t.Fatalf("second disconnect failed: %v", err)
	}

	want := []string{"capture.stop", "capture.close", "output.close", "transport.close"}
	got := h.j.list()
	if len(got) != len(want) {
		t.Fatalf("expected teardown %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	snap := h.sync()
	if snap.State != StateIdle || snap.SessionID != "" {
		t.Errorf("expected idle with no session, got %+v", snap)
	}
	if h.disconnects != 1 {
		t.Errorf("expected one OnDisconnect, got %d", h.disconnects)
	}
	if len(h.errors()) != 0 {
		t.Errorf("clean disconnect reported errors: %v", h.errors())
	}
	if s.closes != 1 {
		t.Errorf("expected one transport close, got %d", s.closes)
	}
}

func TestCaptureFailureReportsDeviceError(t *testing.T) {
	h := newHarness(t)
	h.capture.err = errors.New("no microphone")

	if err := h.c.Connect(); err != nil {
		t.Fatalf("device failures go through OnError, got %v", err)
	}
	snap := h.sync()

	if snap.State != StateIdle {
		t.Errorf("expected idle, got %s", snap.State)
	}
	if len(h.dialer.sessions) != 0 {
		t.Error("transport must not open without a microphone")
	}

	errs := h.errors()
	var serr *Error
	if len(errs) != 1 || !errors.As(errs[0], &serr) || serr.Kind != KindDevice {
		t.Fatalf("expected one device error, got %v", errs)
	}
	if !errors.Is(errs[0], h.capture.err) {
		t.Error("device error must wrap the cause")
	}
}

func TestTransportOpenFailureReleasesDevices(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = transport.ErrMissingCredential

	h.c.Connect()
	h.sync()

	errs := h.errors()
	var serr *Error
	if len(errs) != 1 || !errors.As(errs[0], &serr) || serr.Kind != KindTransport {
		t.Fatalf("expected one transport error, got %v", errs)
	}
	if !errors.Is(errs[0], transport.ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", errs[0])
	}

	steps := h.j.list()
	want := []string{"capture.close", "output.close"}
	if len(steps) != len(want) || steps[0] != want[0] || steps[1] != want[1] {
		t.Errorf("expected partial teardown %v, got %v", want, steps)
	}
}

func TestTransportErrorWhileActive(t *testing.T) {
	h := newHarness(t)
	s := h.connectActive()

	cause := errors.New("connection reset")
	s.h.OnError(cause)
	snap := h.sync()

	if snap.State != StateIdle {
		t.Errorf("expected idle, got %s", snap.State)
	}
	errs := h.errors()
	if len(errs) != 1 || !errors.Is(errs[0], cause) {
		t.Fatalf("expected wrapped transport error, got %v", errs)
	}
	if h.disconnects != 1 {
		t.Errorf("expected OnDisconnect, got %d", h.disconnects)
	}
}

func TestBackendCloseWhileConnecting(t *testing.T) {
	h := newHarness(t)
	h.c.Connect()

	h.session(0).h.OnClose()
	snap := h.sync()

	if snap.State != StateIdle {
		t.Errorf("expected idle, got %s", snap.State)
	}
	if len(h.errors()) != 0 {
		t.Errorf("clean close must not report errors: %v", h.errors())
	}
}

func TestStaleSessionEventsIgnored(t *testing.T) {
	h := newHarness(t)
	old := h.connectActive()
	h.c.Disconnect()

	current := h.connectActive()

	old.h.OnError(errors.New("late failure"))
	old.h.OnClose()
	old.h.OnOpen()
	snap := h.sync()

	if snap.State != StateActive || snap.SessionID != current.ID() {
		t.Errorf("stale events disturbed the live session: %+v", snap)
	}
	if len(h.errors()) != 0 {
		t.Errorf("stale error surfaced: %v", h.errors())
	}
}

func TestSetOutputVolumeAppliesToDevice(t *testing.T) {
	h := newHarness(t)
	h.c.SetOutputVolume(30, true)
	h.connectActive()

	out := h.outputs[0]
	if out.Volume() != 30 || !out.Muted() {
		t.Errorf("expected volume 30 muted, got %d %v", out.Volume(), out.Muted())
	}

	h.c.SetOutputVolume(80, false)
	h.sync()
	if out.Volume() != 80 || out.Muted() {
		t.Errorf("expected volume 80 unmuted, got %d %v", out.Volume(), out.Muted())
	}
}

func TestCloseStopsController(t *testing.T) {
	h := newHarness(t)
	h.connectActive()

	if err := h.c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	h.c.Close()

	if h.disconnects != 1 {
		t.Errorf("expected close to disconnect once, got %d", h.disconnects)
	}
	if err := h.c.Connect(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if h.c.State() != StateIdle {
		t.Errorf("expected idle after close, got %s", h.c.State())
	}
}

func TestStateAndKindStrings(t *testing.T) {
	if StateDisconnecting.String() != "disconnecting" || State(9).String() != "unknown" {
		t.Error("unexpected state strings")
	}
	if KindTransport.String() != "transport" || Kind(9).String() != "unknown" {
		t.Error("unexpected kind strings")
	}

	err := &Error{Kind: KindDevice, Op: "open microphone", Err: errors.New("busy")}
	if err.Error() != "device error: open microphone: busy" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestNaturalEndSurvivesFullEventQueue(t *testing.T) {
	h := newHarness(t)
	s := h.connectActive()

	chunk := encode.Text(make([]byte, 2400*2)) // 100ms at 24kHz
	s.h.OnMessage(&protocol.ServerMessage{ServerContent: &protocol.ServerContent{
		ModelTurn: &protocol.Content{Parts: []protocol.Part{{InlineData: &protocol.Blob{Data: chunk}}}},
	}})
	if snap := h.sync(); snap.Playback.Outstanding != 1 {
		t.Fatalf("expected 1 outstanding, got %d", snap.Playback.Outstanding)
	}

	// park the loop and fill its queue
	started := make(chan struct{})
	release := make(chan struct{})
	h.c.post(func() {
		close(started)
		<-release
	})
	<-started
	for i := 0; i < eventQueueSize+16; i++ {
		h.c.tryPost(func() {})
	}

	// the device finishes the buffer while the queue is full
	h.outputs[0].Render(make([]float32, 2400))
	close(release)

	var snap Snapshot
	for i := 0; i < 100; i++ {
		snap = h.sync()
		if snap.Playback.Outstanding == 0 {
			break
		}
	}
	if snap.Playback.Outstanding != 0 || snap.Playback.Ended != 1 {
		t.Errorf("expected natural end recorded, got %+v", snap.Playback)
	}
}

func TestConnectIf(t *testing.T) {
	h := newHarness(t)

	if err := h.c.ConnectIf(func() bool { return false }); err != nil {
		t.Fatalf("refused admission should not error, got %v", err)
	}
	if snap := h.sync(); snap.State != StateIdle || len(h.dialer.sessions) != 0 {
		t.Fatalf("expected idle with no session, got %s", snap.State)
	}

	if err := h.c.ConnectIf(func() bool { return true }); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	called := false
	err := h.c.ConnectIf(func() bool {
		called = true
		return true
	})
	if !errors.Is(err, ErrNotIdle) {
		t.Errorf("expected ErrNotIdle, got %v", err)
	}
	if called {
		t.Error("admit ran while a session was in progress")
	}
}
