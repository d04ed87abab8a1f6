// ABOUTME: Session usage gate
// ABOUTME: Caps session starts and enforces a cooldown once the cap is reached
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// MaxUses is the number of sessions allowed before the cooldown
	MaxUses = 5

	// Cooldown is how long starts are refused once the cap is reached
	Cooldown = 24 * time.Hour

	// RecheckInterval is how often Run refreshes the gate
	RecheckInterval = time.Minute
)

// State is the gate state
type State int

const (
	StateAllowed State = iota
	StateBlocked
)

func (s State) String() string {
	if s == StateBlocked {
		return "blocked"
	}
	return "allowed"
}

// Decision is the answer to RequestStart. A denial is not an error.
type Decision struct {
	Allowed   bool
	UsesCount int
	Remaining time.Duration
}

// Status is a view of the gate for display
type Status struct {
	State     State
	UsesCount int
	MaxUses   int
	Remaining time.Duration
}

// Option configures a Gate
type Option func(*Gate)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLimits overrides MaxUses and Cooldown
func WithLimits(maxUses int, cooldown time.Duration) Option {
	return func(g *Gate) {
		g.maxUses = maxUses
		g.cooldown = cooldown
	}
}

// Gate decides whether a new session may start. The counter is bumped when
// a session starts; reaching the cap records the cooldown start but the
// gate only reports Blocked once that session has ended, so a running
// session is never cut off.
type Gate struct {
	store    Store
	now      func() time.Time
	maxUses  int
	cooldown time.Duration

	mu    sync.Mutex
	rec   Record
	state State
}

// NewGate loads the record from store. An expired cooldown is cleared and
// the counter reset.
func NewGate(store Store, opts ...Option) (*Gate, error) {
	g := &Gate{
		store:    store,
		now:      time.Now,
		maxUses:  MaxUses,
		cooldown: Cooldown,
	}
	for _, opt := range opts {
		opt(g)
	}

	rec, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	g.rec = rec

	if _, ok := g.deadline(); ok {
		if g.refresh() {
			if err := g.store.Save(g.rec); err != nil {
				return nil, fmt.Errorf("failed to reset usage: %w", err)
			}
		} else {
			g.state = StateBlocked
		}
	}

	log.Debug().
		Int("uses", g.rec.UsesCount).
		Str("state", g.state.String()).
		Msg("Usage gate loaded")
	return g, nil
}

// deadline returns when the recorded cooldown ends
func (g *Gate) deadline() (time.Time, bool) {
	if g.rec.BlockedSince == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*g.rec.BlockedSince).Add(g.cooldown), true
}

func (g *Gate) remaining() time.Duration {
	end, ok := g.deadline()
	if !ok {
		return 0
	}
	if d := end.Sub(g.now()); d > 0 {
		return d
	}
	return 0
}

// refresh clears an expired cooldown in memory and reports whether it did
func (g *Gate) refresh() bool {
	if _, ok := g.deadline(); !ok || g.remaining() > 0 {
		return false
	}
	g.rec = Record{}
	g.state = StateAllowed
	return true
}

// RequestStart counts a session start if the gate allows it. When saving
// fails the start is denied and the in-memory record is unchanged.
func (g *Gate) RequestStart() (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refresh() {
		if err := g.store.Save(g.rec); err != nil {
			log.Warn().Err(err).Msg("Failed to persist usage reset")
		}
	}

	// a pending cooldown blocks here even if the last session never ended
	if g.remaining() > 0 {
		g.state = StateBlocked
	}
	if g.state == StateBlocked {
		return Decision{UsesCount: g.rec.UsesCount, Remaining: g.remaining()}, nil
	}

	prev := g.rec
	next := copyRecord(prev)
	next.UsesCount++
	if next.UsesCount >= g.maxUses {
		since := g.now().UnixMilli()
		next.BlockedSince = &since
	}

	if err := g.store.Save(next); err != nil {
		return Decision{UsesCount: prev.UsesCount}, fmt.Errorf("failed to save usage: %w", err)
	}
	g.rec = next

	log.Info().
		Int("uses", next.UsesCount).
		Int("max", g.maxUses).
		Bool("last", next.BlockedSince != nil).
		Msg("Session start counted")

	return Decision{Allowed: true, UsesCount: next.UsesCount}, nil
}

// SessionEnded applies a pending cooldown after the last allowed session
func (g *Gate) SessionEnded() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateAllowed && g.remaining() > 0 {
		g.state = StateBlocked
		log.Info().Dur("remaining", g.remaining()).Msg("Usage limit reached")
	}
	return g.status()
}

// Recheck clears the cooldown once it has elapsed
func (g *Gate) Recheck() (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateBlocked && g.refresh() {
		log.Info().Msg("Usage cooldown elapsed")
		if err := g.store.Save(g.rec); err != nil {
			return g.status(), fmt.Errorf("failed to save usage: %w", err)
		}
	}
	return g.status(), nil
}

// Reset clears the counter and any cooldown
func (g *Gate) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Save(Record{}); err != nil {
		return fmt.Errorf("failed to save usage: %w", err)
	}
	g.rec = Record{}
	g.state = StateAllowed
	return nil
}

// Status returns the current gate status
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status()
}

func (g *Gate) status() Status {
	s := Status{
		State:     g.state,
		UsesCount: g.rec.UsesCount,
		MaxUses:   g.maxUses,
	}
	if g.state == StateBlocked {
		s.Remaining = g.remaining()
	}
	return s
}

// Run rechecks the gate every interval until ctx is done. fn receives the
// status on every tick while blocked and whenever the state changes.
func (g *Gate) Run(ctx context.Context, every time.Duration, fn func(Status)) {
	if every <= 0 {
		every = RecheckInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := g.Status().State
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := g.Recheck()
			if err != nil {
				log.Warn().Err(err).Msg("Usage recheck failed")
			}
			if status.State == StateBlocked || status.State != last {
				fn(status)
			}
			last = status.State
		}
	}
}

// FormatRemaining renders a cooldown as whole hours and minutes, e.g. "23h 59min"
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dmin", hours, minutes)
}
