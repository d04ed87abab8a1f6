// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and its channels back to the app
package ui

import (
	"github.com/Resonate-Protocol/mentor-go/internal/usage"
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg is an output volume change made in the TUI
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg is sent when the user quits
type QuitMsg struct{}

// Control holds channels from the TUI to the app
type Control struct {
	Changes chan VolumeChangeMsg
	Toggle  chan struct{}
	Quit    chan QuitMsg
}

// NewControl creates a new control handler
func NewControl() *Control {
	return &Control{
		Changes: make(chan VolumeChangeMsg, 10),
		Toggle:  make(chan struct{}, 1),
		Quit:    make(chan QuitMsg, 1),
	}
}

func (c *Control) toggle() {
	if c == nil {
		return
	}
	select {
	case c.Toggle <- struct{}{}:
	default:
	}
}

func (c *Control) volumeChanged(volume int, muted bool) {
	if c == nil {
		return
	}
	select {
	case c.Changes <- VolumeChangeMsg{Volume: volume, Muted: muted}:
	default:
	}
}

func (c *Control) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- QuitMsg{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Control, volume int) Model {
	return Model{
		volume: volume,
		gate:   usage.Status{MaxUses: usage.MaxUses},
		ctrl:   ctrl,
	}
}

// Run creates the TUI program and starts its event loop. Send blocks until
// the loop is running, so status updates are safe as soon as Run returns.
// The channel receives the program's exit error and is then closed.
func Run(ctrl *Control, volume int, opts ...tea.ProgramOption) (*tea.Program, <-chan error) {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	p := tea.NewProgram(NewModel(ctrl, volume), opts...)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
		close(done)
	}()
	return p, done
}
