package observe

import (
	"math/rand"
	"testing"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/plan"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sla = 2 * time.Second

var t0 = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

func threeEntries() []domain.PlanEntry {
	return plan.Compute(t0.Add(3*time.Second), &domain.RepeatSpec{Count: 2, Interval: 2 * time.Second})
}

func requireRule(t *testing.T, err error, rule verdict.Rule) {
	t.Helper()
	require.Error(t, err)
	e, ok := verdict.As(err)
	require.True(t, ok, "expected a verdict error, got %v", err)
	assert.Equal(t, verdict.KindConformance, e.Kind)
	assert.Equal(t, rule, e.Rule)
}

func TestReconcile_PendingBeforeDue(t *testing.T) {
	expected := threeEntries()
	observed := threeEntries()

	require.NoError(t, Reconcile(expected, observed, t0, sla))
	assert.False(t, Resolved(expected))
}

func TestReconcile_PlannedAtMismatch(t *testing.T) {
	expected := threeEntries()
	observed := threeEntries()
	observed[1].PlannedAt = observed[1].PlannedAt.Add(time.Millisecond)

	requireRule(t, Reconcile(expected, observed, t0, sla), verdict.RuleSchedule)
}

func TestReconcile_LengthMismatch(t *testing.T) {
	expected := threeEntries()
	requireRule(t, Reconcile(expected, expected[:2], t0, sla), verdict.RuleSchedule)
}

func TestReconcile_SentBeforeDue(t *testing.T) {
	expected := threeEntries()
	observed := threeEntries()
	observed[0].SentAt = at(3 * time.Second)

	// the checker's clock says the entry is not due yet
	requireRule(t, Reconcile(expected, observed, t0.Add(2*time.Second), sla), verdict.RuleSentBeforeDue)
}

func TestReconcile_FreezesFirstSendTime(t *testing.T) {
	expected := threeEntries()
	observed := threeEntries()
	observed[0].SentAt = at(3500 * time.Millisecond)

	require.NoError(t, Reconcile(expected, observed, t0.Add(4*time.Second), sla))
	require.NotNil(t, expected[0].SentAt)
	assert.True(t, expected[0].SentAt.Equal(t0.Add(3500*time.Millisecond)))

	// the frozen value is a copy, not the observed pointer
	*observed[0].SentAt = t0
	assert.True(t, expected[0].SentAt.Equal(t0.Add(3500*time.Millisecond)))
}

func TestReconcile_SentEarlierThanPlanned(t *testing.T) {
	expected := threeEntries()
	observed := threeEntries()
	observed[0].SentAt = at(2900 * time.Millisecond)

	requireRule(t, Reconcile(expected, observed, t0.Add(4*time.Second), sla), verdict.RuleSentEarly)
	assert.Nil(t, expected[0].SentAt, "a rejected value must not be frozen")
}

func TestReconcile_SendTimeChanged(t *testing.T) {
	expected := threeEntries()
	observed := threeEntries()
	observed[0].SentAt = at(3500 * time.Millisecond)
	require.NoError(t, Reconcile(expected, observed, t0.Add(4*time.Second), sla))

	changed := threeEntries()
	changed[0].SentAt = at(3600 * time.Millisecond)
	requireRule(t, Reconcile(expected, changed, t0.Add(4500*time.Millisecond), sla), verdict.RuleSendTimeChanged)

	// a frozen entry reported as unsent again is also a change
	cleared := threeEntries()
	requireRule(t, Reconcile(expected, cleared, t0.Add(4500*time.Millisecond), sla), verdict.RuleSendTimeChanged)
}

func TestReconcile_SLABoundaryIsInclusive(t *testing.T) {
	expected := threeEntries()
	observed := threeEntries()

	// exactly planned_at + sla is still allowed
	require.NoError(t, Reconcile(expected, observed, t0.Add(5*time.Second), sla))
	requireRule(t, Reconcile(expected, observed, t0.Add(5*time.Second+time.Nanosecond), sla), verdict.RuleSLA)
}

func TestReconcile_Idempotent(t *testing.T) {
	expected := threeEntries()
	observed := threeEntries()
	observed[0].SentAt = at(3100 * time.Millisecond)
	observed[1].SentAt = at(5200 * time.Millisecond)
	now := t0.Add(6 * time.Second)

	require.NoError(t, Reconcile(expected, observed, now, sla))
	first := domain.ClonePlan(expected)

	require.NoError(t, Reconcile(expected, observed, now, sla))
	assert.Equal(t, first, expected, "second call must not change state")
}

// TestReconcile_Monotonic property-tests that once frozen, only the frozen
// value passes reconciliation.
func TestReconcile_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 200; trial++ {
		expected := threeEntries()
		idx := rng.Intn(len(expected))
		sentOffset := time.Duration(rng.Intn(int(sla/time.Millisecond))) * time.Millisecond
		sent := expected[idx].PlannedAt.Add(sentOffset)
		now := expected[len(expected)-1].PlannedAt.Add(sla)

		observed := threeEntries()
		for i := range observed {
			s := observed[i].PlannedAt.Add(sentOffset)
			observed[i].SentAt = &s
		}
		observed[idx].SentAt = &sent
		require.NoError(t, Reconcile(expected, observed, now, sla), "trial %d", trial)

		delta := time.Duration(rng.Intn(1000)+1) * time.Microsecond
		if rng.Intn(2) == 0 {
			delta = -delta
		}
		other := sent.Add(delta)
		tampered := domain.ClonePlan(observed)
		tampered[idx].SentAt = &other

		err := Reconcile(expected, tampered, now, sla)
		requireRule(t, err, verdict.RuleSendTimeChanged)
		assert.True(t, expected[idx].SentAt.Equal(sent), "trial %d: frozen value must survive", trial)
	}
}

// TestReconcile_LivenessDeterministic checks that an overdue unsent entry
// always fails, whatever the other entries look like.
func TestReconcile_LivenessDeterministic(t *testing.T) {
	for lateBy := time.Millisecond; lateBy < 5*time.Second; lateBy += 333 * time.Millisecond {
		expected := threeEntries()
		observed := threeEntries()
		now := expected[0].PlannedAt.Add(sla + lateBy)

		requireRule(t, Reconcile(expected, observed, now, sla), verdict.RuleSLA)
	}
}

func TestExpectation_ObserveViews(t *testing.T) {
	p := domain.NewCreationParams("Hello", "body", t0.Add(3*time.Second), nil)
	x := NewExpectation("n-1", p, sla)

	require.NoError(t, x.ObserveView(plan.Public(p), t0))
	requireRule(t, x.ObserveView(domain.PublicView{Title: "Other", Plan: plan.ForParams(p)}, t0), verdict.RuleTitle)

	priv := plan.Private("n-1", p)
	require.NoError(t, x.ObservePrivate(priv, t0))

	priv.Content = "tampered"
	requireRule(t, x.ObservePrivate(priv, t0), verdict.RuleContent)

	user := domain.UserInfo{Username: "alice", Notifications: []domain.PrivateView{plan.Private("n-1", p)}}
	require.NoError(t, x.ObserveUser(user, "alice", t0))
	requireRule(t, x.ObserveUser(domain.UserInfo{Username: "alice"}, "alice", t0), verdict.RuleSchedule)

	assert.False(t, x.Resolved())
	assert.Equal(t, 1, x.Len())
	assert.True(t, x.Last().Equal(p.NotifyAt))
}
