// ABOUTME: Bubbletea model for the mentor TUI
// ABOUTME: Defines session, meter and usage state plus update logic
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/mentor-go/internal/playback"
	"github.com/Resonate-Protocol/mentor-go/internal/session"
	"github.com/Resonate-Protocol/mentor-go/internal/usage"
	tea "github.com/charmbracelet/bubbletea"
)

// MaxMeterLevel caps the microphone meter
const MaxMeterLevel = 1.5

// Model represents the TUI state
type Model struct {
	// Session
	state     session.State
	sessionID string
	micLevel  float64

	// Usage
	gate usage.Status

	// Playback
	playback   playback.SchedulerStats
	blocksSent uint64
	volume     int
	muted      bool

	errMsg string

	// Debug
	showDebug  bool
	goroutines int
	memAlloc   uint64

	width  int
	height int

	ctrl *Control
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderMeter())
	b.WriteString(m.renderUsage())
	b.WriteString(m.renderControls())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	status := "Ready"
	switch m.state {
	case session.StateConnecting:
		status = "Connecting..."
	case session.StateActive:
		status = "Listening"
	case session.StateDisconnecting:
		status = "Ending session..."
	}
	if m.gate.State == usage.StateBlocked && m.state == session.StateIdle {
		status = "Usage limit reached"
	}

	s := fmt.Sprintf(`┌─ Mentor ─────────────────────────────────────────────┐
│ Status: %-44s │
`, status)
	if m.errMsg != "" {
		s += fmt.Sprintf("│ Error:  %-44s │\n", truncate(m.errMsg, 44))
	}
	return s + "├──────────────────────────────────────────────────────┤\n"
}

func (m Model) renderMeter() string {
	level := meterLevel(m.micLevel)
	if m.state != session.StateActive {
		level = 0
	}
	return fmt.Sprintf("│ Mic:    [%s] %4.2f%-17s │\n", meterBar(level, 20), level, "")
}

func (m Model) renderUsage() string {
	if m.gate.State == usage.StateBlocked {
		return fmt.Sprintf("│ Uses:   %d/%d  blocked for %-27s │\n",
			m.gate.UsesCount, m.gate.MaxUses, usage.FormatRemaining(m.gate.Remaining))
	}

	warn := ""
	if m.gate.MaxUses > 0 && m.gate.UsesCount >= m.gate.MaxUses-1 {
		warn = " (last session)"
		if m.gate.UsesCount >= m.gate.MaxUses {
			warn = " (limit reached)"
		}
	}
	return fmt.Sprintf("│ Uses:   %d/%d%-40s │\n", m.gate.UsesCount, m.gate.MaxUses, warn)
}

func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}

	return fmt.Sprintf("│ Volume: [%s] %d%%%s%-12s │\n"+
		"│ Queued: %-44s │\n"+
		"├──────────────────────────────────────────────────────┤\n"+
		"│ Stats:  Sent: %d  RX: %d  Dropped: %d  Cut: %d%-5s │\n",
		renderBar(m.volume, 100, 10), m.volume, muteIcon, "",
		m.playback.QueuedAhead.Round(10*time.Millisecond),
		m.blocksSent, m.playback.Scheduled, m.playback.Dropped, m.playback.Interrupted, "")
}

func (m Model) renderDebug() string {
	id := m.sessionID
	if id == "" {
		id = "-"
	}
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Session:    %-38s │
│   Goroutines: %-38d │
│   Mem Alloc:  %-35d KB │
`, id, m.goroutines, m.memAlloc/1024)
}

func (m Model) renderHelp() string {
	action := "space:Start"
	if m.state == session.StateActive || m.state == session.StateConnecting {
		action = "space:Stop "
	}
	return fmt.Sprintf(`│ %s  ↑/↓:Volume  m:Mute  d:Debug  q:Quit      │
└──────────────────────────────────────────────────────┘
`, action)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.ctrl.quit()
		return m, tea.Quit
	case " ", "enter":
		m.ctrl.toggle()
	case "up":
		if m.volume < 100 {
			m.volume = min(m.volume+5, 100)
			m.ctrl.volumeChanged(m.volume, m.muted)
		}
	case "down":
		if m.volume > 0 {
			m.volume = max(m.volume-5, 0)
			m.ctrl.volumeChanged(m.volume, m.muted)
		}
	case "m":
		m.muted = !m.muted
		m.ctrl.volumeChanged(m.volume, m.muted)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.State != nil {
		m.state = *msg.State
		if m.state != session.StateActive {
			m.micLevel = 0
		}
	}
	if msg.SessionID != nil {
		m.sessionID = *msg.SessionID
	}
	if msg.MicLevel != nil {
		m.micLevel = *msg.MicLevel
	}
	if msg.Gate != nil {
		m.gate = *msg.Gate
	}
	if msg.Playback != nil {
		m.playback = *msg.Playback
		m.blocksSent = msg.BlocksSent
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.Muted != nil {
		m.muted = *msg.Muted
	}
	if msg.Error != nil {
		m.errMsg = *msg.Error
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
	}
}

// StatusMsg updates TUI state. Nil fields are left unchanged.
type StatusMsg struct {
	State      *session.State
	SessionID  *string
	MicLevel   *float64
	Gate       *usage.Status
	Playback   *playback.SchedulerStats
	BlocksSent uint64
	Volume     *int
	Muted      *bool
	Error      *string // empty string clears
	Goroutines int
	MemAlloc   uint64
}

func meterLevel(v float64) float64 {
	if v < 0 {
		return 0
	}
	return min(v, MaxMeterLevel)
}

func meterBar(level float64, width int) string {
	filled := int(level / MaxMeterLevel * float64(width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
