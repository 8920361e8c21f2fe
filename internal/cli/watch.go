package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexanderramin/notifyprobe/internal/cli/formatter"
	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/poller"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

// pollMsg carries one poller event into the watch view.
type pollMsg poller.Event

// checkDoneMsg ends the watch view.
type checkDoneMsg struct{ err error }

// watchModel renders live progress of a check.
type watchModel struct {
	host    string
	spinner spinner.Model
	cancel  context.CancelFunc

	last     poller.Event
	events   int
	done     bool
	err      error
	canceled bool
}

func newWatchModel(host string, cancel context.CancelFunc) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = formatter.StylePurple
	return watchModel{host: host, spinner: sp, cancel: cancel}
}

func (m watchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.done && !m.canceled {
				m.canceled = true
				m.cancel()
			}
		}
		return m, nil
	case pollMsg:
		m.last = poller.Event(msg)
		m.events++
		return m, nil
	case checkDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(formatter.Header("notifyprobe check "+m.host) + "\n\n")

	switch {
	case m.done:
		b.WriteString(formatter.StatusBadge(verdict.StatusOf(m.err)))
		if m.err != nil {
			public, _ := verdict.Describe(m.err)
			b.WriteString("  " + public)
		}
		b.WriteString("\n")
	case m.events == 0:
		b.WriteString(m.spinner.View() + " " + formatter.Dim("setting up accounts") + "\n")
	default:
		status := fmt.Sprintf("tick %d · %s · %s", m.last.Tick, m.last.Vantage, m.last.State)
		if m.last.Final {
			status += " · final"
		}
		if m.canceled {
			status += " · stopping"
		}
		b.WriteString(m.spinner.View() + " " + status + "\n")
	}

	if len(m.last.Plan) > 0 {
		b.WriteString("\n")
		sent := 0
		for i, e := range m.last.Plan {
			b.WriteString(formatEntry(i, e) + "\n")
			if e.Sent() {
				sent++
			}
		}
		b.WriteString("\n" + formatter.RenderProgress(sent, len(m.last.Plan), 20) + "\n")
	}
	if !m.done {
		b.WriteString("\n" + formatter.Dim("q to stop") + "\n")
	}
	return b.String()
}

func formatEntry(i int, e domain.PlanEntry) string {
	planned := e.PlannedAt.Format("15:04:05.000")
	if !e.Sent() {
		return fmt.Sprintf("  #%-2d %s  %s", i+1, planned, formatter.Dim("pending"))
	}
	lag := e.SentAt.Sub(e.PlannedAt).Round(time.Millisecond)
	sign := ""
	if lag >= 0 {
		sign = "+"
	}
	return fmt.Sprintf("  #%-2d %s  %s %s", i+1, planned,
		formatter.StyleGreen.Render("sent "+e.SentAt.Format("15:04:05.000")),
		formatter.Dim("("+sign+lag.String()+")"))
}

// programObserver forwards poll events to a running program.
type programObserver struct{ p *tea.Program }

func (o programObserver) OnPoll(e poller.Event) { o.p.Send(pollMsg(e)) }
