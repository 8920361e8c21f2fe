// Package poller samples a notification's reported state from several
// vantage points on a fixed cadence until its whole plan has resolved.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

// Vantage fetches the public view of a notification as one caller identity.
type Vantage interface {
	Name() domain.Vantage
	Fetch(ctx context.Context, id string) (domain.PublicView, error)
}

// UserVantage additionally exposes the owner's account overview.
type UserVantage interface {
	Vantage
	Username() string
	FetchUser(ctx context.Context) (domain.UserInfo, error)
}

// Event describes one reconciled sample or a terminal transition.
type Event struct {
	Tick    int
	Vantage domain.Vantage
	At      time.Time
	State   State
	Plan    []domain.PlanEntry
	Final   bool
	Err     error
}

// Observer receives poll progress. Implementations must not block.
type Observer interface {
	OnPoll(Event)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) OnPoll(Event) {}

// Config controls cadence and settling.
type Config struct {
	Cadence time.Duration
	Grace   time.Duration
}

// DefaultConfig mirrors the service's expected timings.
func DefaultConfig() Config {
	return Config{Cadence: 500 * time.Millisecond, Grace: time.Second}
}

// Poller drives a Machine against live vantage points.
type Poller struct {
	cfg      Config
	clock    Clock
	vantages []Vantage
	final    []Vantage
	observer Observer
}

// New creates a Poller. vantages are sampled on every tick; final vantages
// are sampled once after the machine settles.
func New(cfg Config, clock Clock, vantages, final []Vantage, observer Observer) *Poller {
	if clock == nil {
		clock = SystemClock{}
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	return &Poller{cfg: cfg, clock: clock, vantages: vantages, final: final, observer: observer}
}

// Run polls until m settles or is violated. It returns nil once the plan has
// settled and every final vantage has reconciled cleanly. Transport errors
// abort immediately and are returned unchanged.
func (p *Poller) Run(ctx context.Context, m *Machine) error {
	if len(p.vantages) == 0 {
		return errors.New("poller: no vantage points configured")
	}
	required := make([]domain.Vantage, len(p.vantages))
	for i, v := range p.vantages {
		required[i] = v.Name()
	}

	id := m.Expectation().ID
	tick := 0
	for {
		tick++
		start := p.clock.Now()
		if m.Advance(start, required) == Settled {
			p.observer.OnPoll(Event{Tick: tick, At: start, State: Settled, Plan: m.Expectation().Snapshot()})
			break
		}

		for _, v := range p.vantages {
			view, err := v.Fetch(ctx, id)
			if err != nil {
				return p.abort(ctx, err)
			}
			now := p.clock.Now()
			err = m.Observe(v.Name(), view, now)
			p.observer.OnPoll(Event{
				Tick:    tick,
				Vantage: v.Name(),
				At:      now,
				State:   m.State(),
				Plan:    m.Expectation().Snapshot(),
				Err:     err,
			})
			if err != nil {
				return err
			}
		}

		wait := p.cfg.Cadence - p.clock.Now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return p.abort(ctx, err)
		}
	}

	return p.runFinal(ctx, m, tick+1)
}

// runFinal re-fetches committed state once more after settling.
func (p *Poller) runFinal(ctx context.Context, m *Machine, tick int) error {
	exp := m.Expectation()
	for _, v := range p.final {
		view, err := v.Fetch(ctx, exp.ID)
		if err != nil {
			return p.abort(ctx, err)
		}
		now := p.clock.Now()
		err = exp.ObserveView(view, now)

		if err == nil {
			if uv, ok := v.(UserVantage); ok {
				var info domain.UserInfo
				info, err = uv.FetchUser(ctx)
				if err != nil {
					return p.abort(ctx, err)
				}
				now = p.clock.Now()
				err = exp.ObserveUser(info, uv.Username(), now)
			}
		}

		state := Settled
		if err != nil {
			state = Violated
		}
		p.observer.OnPoll(Event{Tick: tick, Vantage: v.Name(), At: now, State: state, Plan: exp.Snapshot(), Final: true, Err: err})
		if err != nil {
			return err
		}
	}
	return nil
}

// abort converts run-context expiry into a Deadline verdict; any other error
// passes through.
func (p *Poller) abort(ctx context.Context, err error) error {
	if _, ok := verdict.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return verdict.Deadline(fmt.Sprintf("polling interrupted: %v", err))
	}
	return err
}
