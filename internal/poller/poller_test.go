package poller

import (
	"context"
	"testing"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/observe"
	"github.com/alexanderramin/notifyprobe/internal/plan"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// fakeClock advances only when the poller sleeps or a fetch costs latency.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// simService is a scheduler that sends each entry delay after it is due.
type simService struct {
	clock  *fakeClock
	params domain.CreationParams
	delay  time.Duration
	// early makes entry i report a send time before its planned instant
	early map[int]time.Duration
}

func (s *simService) view() domain.PublicView {
	entries := plan.ForParams(s.params)
	now := s.clock.Now()
	for i := range entries {
		if e, ok := s.early[i]; ok {
			sent := entries[i].PlannedAt.Add(-e)
			if !now.Before(sent) {
				entries[i].SentAt = &sent
			}
			continue
		}
		sent := entries[i].PlannedAt.Add(s.delay)
		if !now.Before(sent) {
			entries[i].SentAt = &sent
		}
	}
	return domain.PublicView{Title: s.params.Title, Plan: entries}
}

type simVantage struct {
	name    domain.Vantage
	svc     *simService
	latency time.Duration
	mutate  func(*domain.PublicView)
	err     error
	calls   int
}

func (v *simVantage) Name() domain.Vantage { return v.name }

func (v *simVantage) Fetch(ctx context.Context, id string) (domain.PublicView, error) {
	v.calls++
	if v.err != nil {
		return domain.PublicView{}, v.err
	}
	v.svc.clock.now = v.svc.clock.now.Add(v.latency)
	view := v.svc.view()
	if v.mutate != nil {
		v.mutate(&view)
	}
	return view, nil
}

type simUserVantage struct {
	simVantage
	username string
	content  string
}

func (v *simUserVantage) Username() string { return v.username }

func (v *simUserVantage) FetchUser(ctx context.Context) (domain.UserInfo, error) {
	view := v.svc.view()
	return domain.UserInfo{
		Username: v.username,
		Notifications: []domain.PrivateView{{
			ID: "n-1", Title: view.Title, Content: v.content, Plan: view.Plan,
		}},
	}, nil
}

type recorder struct{ events []Event }

func (r *recorder) OnPoll(e Event) { r.events = append(r.events, e) }

func scenario() (*fakeClock, *simService, *observe.Expectation) {
	clock := &fakeClock{now: start}
	params := domain.NewCreationParams("title", "content", start.Add(3*time.Second),
		&domain.RepeatSpec{Count: 2, Interval: 2 * time.Second})
	svc := &simService{clock: clock, params: params, delay: 300 * time.Millisecond}
	return clock, svc, observe.NewExpectation("n-1", params, 2*time.Second)
}

func threeVantages(svc *simService) []Vantage {
	return []Vantage{
		&simVantage{name: domain.VantageOwner, svc: svc, latency: 20 * time.Millisecond},
		&simVantage{name: domain.VantageOther, svc: svc, latency: 20 * time.Millisecond},
		&simVantage{name: domain.VantageAnonymous, svc: svc, latency: 20 * time.Millisecond},
	}
}

func TestPoller_SettlesOnConformingService(t *testing.T) {
	clock, svc, exp := scenario()
	rec := &recorder{}
	m := NewMachine(exp, time.Second)

	p := New(DefaultConfig(), clock, threeVantages(svc), nil, rec)
	require.NoError(t, p.Run(context.Background(), m))

	assert.Equal(t, Settled, m.State())
	require.True(t, exp.Resolved())
	snap := exp.Snapshot()
	require.Len(t, snap, 3)
	for i, off := range []time.Duration{3 * time.Second, 5 * time.Second, 7 * time.Second} {
		assert.True(t, snap[i].PlannedAt.Equal(start.Add(off)), "entry %d", i)
	}

	// all three sent_at values are observed by start+8s
	var resolvedAt time.Time
	for _, e := range rec.events {
		if observe.Resolved(e.Plan) {
			resolvedAt = e.At
			break
		}
	}
	require.False(t, resolvedAt.IsZero())
	assert.False(t, resolvedAt.After(start.Add(8*time.Second)), "resolved at %s", resolvedAt.Sub(start))

	// settling waits for last planned + sla + grace
	assert.True(t, clock.Now().After(m.Deadline()))
	assert.Equal(t, start.Add(10*time.Second), m.Deadline())
}

func TestPoller_CadenceSubtractsRequestTime(t *testing.T) {
	clock, svc, exp := scenario()
	m := NewMachine(exp, time.Second)

	p := New(DefaultConfig(), clock, threeVantages(svc), nil, nil)
	require.NoError(t, p.Run(context.Background(), m))

	require.NotEmpty(t, clock.sleeps)
	for _, d := range clock.sleeps {
		// three fetches of 20ms each are deducted from the 500ms cadence
		assert.Equal(t, 440*time.Millisecond, d)
	}
}

func TestPoller_CadenceClampsToZero(t *testing.T) {
	clock, svc, exp := scenario()
	m := NewMachine(exp, time.Second)
	slow := []Vantage{&simVantage{name: domain.VantageOwner, svc: svc, latency: 700 * time.Millisecond}}

	p := New(DefaultConfig(), clock, slow, nil, nil)
	require.NoError(t, p.Run(context.Background(), m))

	for _, d := range clock.sleeps {
		assert.Equal(t, time.Duration(0), d)
	}
}

func TestPoller_FailsWhenSentBeforePlanned(t *testing.T) {
	clock, svc, exp := scenario()
	svc.early = map[int]time.Duration{1: 100 * time.Millisecond}
	m := NewMachine(exp, time.Second)

	p := New(DefaultConfig(), clock, threeVantages(svc), nil, nil)
	err := p.Run(context.Background(), m)

	require.Error(t, err)
	e, ok := verdict.As(err)
	require.True(t, ok)
	assert.Equal(t, verdict.KindConformance, e.Kind)
	assert.Contains(t, []verdict.Rule{verdict.RuleSentBeforeDue, verdict.RuleSentEarly}, e.Rule)
	assert.Equal(t, Violated, m.State())
}

func TestPoller_FailsWhenSendIsLate(t *testing.T) {
	clock, svc, exp := scenario()
	svc.delay = 2500 * time.Millisecond
	m := NewMachine(exp, time.Second)

	p := New(DefaultConfig(), clock, threeVantages(svc), nil, nil)
	err := p.Run(context.Background(), m)

	e, ok := verdict.As(err)
	require.True(t, ok)
	assert.Equal(t, verdict.RuleSLA, e.Rule)
}

func TestPoller_VantagesMustAgreeOnFrozenValues(t *testing.T) {
	clock, svc, exp := scenario()
	vantages := threeVantages(svc)
	// the anonymous view reports a different send time for the first entry
	vantages[2].(*simVantage).mutate = func(v *domain.PublicView) {
		if v.Plan[0].SentAt != nil {
			shifted := v.Plan[0].SentAt.Add(time.Millisecond)
			v.Plan[0].SentAt = &shifted
		}
	}
	rec := &recorder{}
	m := NewMachine(exp, time.Second)

	err := New(DefaultConfig(), clock, vantages, nil, rec).Run(context.Background(), m)

	e, ok := verdict.As(err)
	require.True(t, ok)
	assert.Equal(t, verdict.RuleSendTimeChanged, e.Rule)
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, domain.VantageAnonymous, last.Vantage)
	assert.Equal(t, Violated, last.State)
}

func TestPoller_VantagesAgreeAtSameTick(t *testing.T) {
	clock, svc, exp := scenario()
	rec := &recorder{}
	m := NewMachine(exp, time.Second)

	require.NoError(t, New(DefaultConfig(), clock, threeVantages(svc), nil, rec).Run(context.Background(), m))

	byTick := map[int][]Event{}
	for _, e := range rec.events {
		if e.Vantage != "" {
			byTick[e.Tick] = append(byTick[e.Tick], e)
		}
	}
	frozen := exp.Snapshot()
	for tick, events := range byTick {
		require.Len(t, events, 3, "tick %d", tick)
		for _, e := range events {
			for i, entry := range e.Plan {
				if entry.SentAt != nil {
					assert.True(t, entry.SentAt.Equal(*frozen[i].SentAt), "tick %d %s entry %d", tick, e.Vantage, i)
				}
			}
		}
	}
}

func TestPoller_OutageAbortsImmediately(t *testing.T) {
	clock, svc, exp := scenario()
	outage := verdict.Outage("API connection error", "GET /notification/n-1")
	vantages := threeVantages(svc)
	vantages[1].(*simVantage).err = outage
	m := NewMachine(exp, time.Second)

	err := New(DefaultConfig(), clock, vantages, nil, nil).Run(context.Background(), m)

	assert.ErrorIs(t, err, outage)
	assert.True(t, verdict.IsKind(err, verdict.KindOutage))
	assert.Equal(t, 0, vantages[2].(*simVantage).calls, "sampling stops at the failing vantage")
	assert.Equal(t, Waiting, m.State(), "an outage is not a conformance violation")
}

func TestPoller_RunDeadlineIsReportedDistinctly(t *testing.T) {
	clock, svc, exp := scenario()
	m := NewMachine(exp, time.Second)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := New(DefaultConfig(), clock, threeVantages(svc), nil, nil).Run(ctx, m)

	assert.True(t, verdict.IsKind(err, verdict.KindDeadline), "got %v", err)
	assert.Equal(t, verdict.StatusDown, verdict.StatusOf(err))
}

func TestPoller_FinalRefetchAfterSettle(t *testing.T) {
	clock, svc, exp := scenario()
	final := &simUserVantage{
		simVantage: simVantage{name: domain.VantageRelogin, svc: svc},
		username:   "alice",
		content:    "content",
	}
	rec := &recorder{}
	m := NewMachine(exp, time.Second)

	err := New(DefaultConfig(), clock, threeVantages(svc), []Vantage{final}, rec).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, final.calls)

	last := rec.events[len(rec.events)-1]
	assert.True(t, last.Final)
	assert.Equal(t, domain.VantageRelogin, last.Vantage)
}

func TestPoller_FinalRefetchDetectsForgottenState(t *testing.T) {
	clock, svc, exp := scenario()
	final := &simUserVantage{
		simVantage: simVantage{name: domain.VantageRelogin, svc: svc},
		username:   "alice",
		content:    "content",
	}
	final.mutate = func(v *domain.PublicView) {
		for i := range v.Plan {
			v.Plan[i].SentAt = nil
		}
	}
	m := NewMachine(exp, time.Second)

	err := New(DefaultConfig(), clock, threeVantages(svc), []Vantage{final}, nil).Run(context.Background(), m)

	e, ok := verdict.As(err)
	require.True(t, ok)
	assert.Equal(t, verdict.RuleSendTimeChanged, e.Rule)
}

func TestPoller_FinalUserContentMismatch(t *testing.T) {
	clock, svc, exp := scenario()
	final := &simUserVantage{
		simVantage: simVantage{name: domain.VantageRelogin, svc: svc},
		username:   "alice",
		content:    "lost",
	}
	m := NewMachine(exp, time.Second)

	err := New(DefaultConfig(), clock, threeVantages(svc), []Vantage{final}, nil).Run(context.Background(), m)

	e, ok := verdict.As(err)
	require.True(t, ok)
	assert.Equal(t, verdict.RuleContent, e.Rule)
}

func TestPoller_RequiresVantages(t *testing.T) {
	clock, _, exp := scenario()
	err := New(DefaultConfig(), clock, nil, nil, nil).Run(context.Background(), NewMachine(exp, time.Second))
	assert.Error(t, err)
}

func TestMachine_TransitionsWithoutClock(t *testing.T) {
	_, svc, exp := scenario()
	m := NewMachine(exp, time.Second)
	required := []domain.Vantage{domain.VantageOwner}

	assert.Equal(t, Waiting, m.Advance(start.Add(20*time.Second), required), "unresolved plans never settle")

	svc.clock.now = start.Add(9 * time.Second)
	require.NoError(t, m.Observe(domain.VantageOwner, svc.view(), svc.clock.now))
	assert.Equal(t, Waiting, m.Advance(start.Add(10*time.Second), required), "deadline itself is not past")
	assert.Equal(t, Waiting, m.Advance(start.Add(11*time.Second), []domain.Vantage{domain.VantageOther}),
		"every required vantage must have been sampled")
	assert.Equal(t, Settled, m.Advance(start.Add(11*time.Second), required))

	// terminal states are sticky
	assert.NoError(t, m.Observe(domain.VantageOwner, domain.PublicView{}, start))
	assert.Equal(t, Settled, m.State())
}

func TestMachine_ViolationIsTerminal(t *testing.T) {
	_, svc, exp := scenario()
	m := NewMachine(exp, time.Second)

	bad := svc.view()
	bad.Title = "other"
	err := m.Observe(domain.VantageOther, bad, start)
	require.Error(t, err)
	assert.Equal(t, Violated, m.State())
	assert.Equal(t, err, m.Err())

	assert.Equal(t, err, m.Observe(domain.VantageOther, svc.view(), start))
	assert.Equal(t, Violated, m.Advance(start.Add(time.Hour), nil))
}
