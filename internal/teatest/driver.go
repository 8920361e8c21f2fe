// Package teatest runs bubbletea models without a tea.Program.
//
// Messages go straight to Update and the Cmds it returns are executed in
// place. A Cmd that has not produced a message within stepTimeout (spinner
// frames, tea.Tick) is treated as a timer and dropped, so every call returns
// promptly and tests stay deterministic.
package teatest

import (
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// maxSteps bounds the Cmd chain followed for one message.
const maxSteps = 100

const stepTimeout = 10 * time.Millisecond

// Driver feeds messages to a model and records what it renders.
type Driver struct {
	T     *testing.T
	Model tea.Model

	// Quitting reports that the model asked the program to exit.
	Quitting bool
	// Ticks counts spinner frames the model has consumed.
	Ticks int
	// Frames holds the view rendered after each delivered message.
	Frames []string
}

// Option configures a Driver.
type Option func(*Driver)

// WithSize delivers a WindowSizeMsg before anything else.
func WithSize(w, h int) Option {
	return func(d *Driver) {
		d.Model, _ = d.Model.Update(tea.WindowSizeMsg{Width: w, Height: h})
	}
}

// New wraps model. Run DrainInit to execute its Init Cmd.
func New(t *testing.T, model tea.Model, opts ...Option) *Driver {
	t.Helper()
	d := &Driver{T: t, Model: model}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DrainInit executes Init.
func (d *Driver) DrainInit() {
	d.T.Helper()
	d.run(d.Model.Init())
}

// Send delivers msg unless the model has already quit.
func (d *Driver) Send(msg tea.Msg) {
	d.T.Helper()
	if d.Quitting {
		return
	}
	d.deliver(msg)
}

// Key delivers a key press by name: "ctrl+c", "esc", "enter" or a single
// rune such as "q".
func (d *Driver) Key(name string) {
	d.T.Helper()
	var msg tea.KeyMsg
	switch name {
	case "ctrl+c":
		msg = tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(name)}
	}
	d.Send(msg)
}

// View renders the model's current state.
func (d *Driver) View() string {
	return d.Model.View()
}

func (d *Driver) deliver(msg tea.Msg) {
	var cmd tea.Cmd
	d.Model, cmd = d.Model.Update(msg)
	d.Frames = append(d.Frames, d.Model.View())
	d.run(cmd)
}

// run follows cmd breadth-first until nothing but timers remain.
func (d *Driver) run(cmd tea.Cmd) {
	d.T.Helper()
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		if steps == maxSteps {
			d.T.Logf("teatest: stopped after %d steps", maxSteps)
			return
		}
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}

		switch msg := await(next).(type) {
		case nil:
		case tea.BatchMsg:
			queue = append(queue, msg...)
		case tea.QuitMsg:
			d.Quitting = true
		default:
			if _, ok := msg.(spinner.TickMsg); ok {
				d.Ticks++
			}
			var follow tea.Cmd
			d.Model, follow = d.Model.Update(msg)
			d.Frames = append(d.Frames, d.Model.View())
			queue = append(queue, follow)
		}
	}
}

// await returns cmd's message, or nil if cmd is still blocked after
// stepTimeout.
func await(cmd tea.Cmd) tea.Msg {
	ch := make(chan tea.Msg, 1)
	go func() { ch <- cmd() }()
	timer := time.NewTimer(stepTimeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		return msg
	case <-timer.C:
		return nil
	}
}
