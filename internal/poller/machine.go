package poller

import (
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/observe"
)

// State is the poller's lifecycle state.
type State int

const (
	Waiting State = iota
	Violated
	Settled
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Violated:
		return "violated"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// Machine is the poll state machine for one notification. It owns the
// expectation and carries the settle deadline as data, so transitions can be
// exercised with arbitrary timestamps.
type Machine struct {
	exp      *observe.Expectation
	deadline time.Time
	state    State
	err      error
	seen     map[domain.Vantage]bool
}

// NewMachine creates a machine that settles once now passes the last
// planned instant plus the SLA and grace.
func NewMachine(exp *observe.Expectation, grace time.Duration) *Machine {
	return &Machine{
		exp:      exp,
		deadline: exp.Last().Add(exp.SLA + grace),
		seen:     make(map[domain.Vantage]bool),
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Err returns the violation that moved the machine to Violated.
func (m *Machine) Err() error { return m.err }

// Deadline returns the instant after which a fully resolved plan settles.
func (m *Machine) Deadline() time.Time { return m.deadline }

// Expectation returns the tracked expectation.
func (m *Machine) Expectation() *observe.Expectation { return m.exp }

// Observe reconciles one sampled view. It is a no-op once the machine has
// reached a terminal state.
func (m *Machine) Observe(v domain.Vantage, view domain.PublicView, now time.Time) error {
	if m.state != Waiting {
		return m.err
	}
	if err := m.exp.ObserveView(view, now); err != nil {
		m.state = Violated
		m.err = err
		return err
	}
	m.seen[v] = true
	return nil
}

// Advance evaluates the settle condition at now. Settling requires every
// entry resolved, the deadline passed and at least one clean sample from each
// required vantage.
func (m *Machine) Advance(now time.Time, required []domain.Vantage) State {
	if m.state != Waiting {
		return m.state
	}
	if !now.After(m.deadline) || !m.exp.Resolved() {
		return m.state
	}
	for _, v := range required {
		if !m.seen[v] {
			return m.state
		}
	}
	m.state = Settled
	return m.state
}
