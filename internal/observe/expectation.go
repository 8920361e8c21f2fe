package observe

import (
	"fmt"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/plan"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

// Expectation is the single source of truth for one tracked notification
// during a run. It is not safe for concurrent use.
type Expectation struct {
	ID      string
	Title   string
	Content string
	SLA     time.Duration

	entries []domain.PlanEntry
}

// NewExpectation starts tracking a freshly created notification.
func NewExpectation(id string, p domain.CreationParams, sla time.Duration) *Expectation {
	return &Expectation{
		ID:      id,
		Title:   p.Title,
		Content: p.Content,
		SLA:     sla,
		entries: plan.ForParams(p),
	}
}

// ObserveView reconciles a public view sampled at now.
func (x *Expectation) ObserveView(v domain.PublicView, now time.Time) error {
	if v.Title != x.Title {
		return verdict.Conformance(verdict.RuleTitle,
			"invalid notification title",
			fmt.Sprintf("notification %s title %q, want %q", x.ID, v.Title, x.Title))
	}
	return Reconcile(x.entries, v.Plan, now, x.SLA)
}

// ObservePrivate reconciles an owner view sampled at now.
func (x *Expectation) ObservePrivate(v domain.PrivateView, now time.Time) error {
	if v.ID != x.ID {
		return verdict.Conformance(verdict.RuleSchedule,
			"invalid notification id",
			fmt.Sprintf("got notification %q, want %q", v.ID, x.ID))
	}
	if v.Content != x.Content {
		return verdict.Conformance(verdict.RuleContent,
			"invalid notification content",
			fmt.Sprintf("notification %s content %q, want %q", x.ID, v.Content, x.Content))
	}
	return x.ObserveView(v.Public(), now)
}

// ObserveUser reconciles an account overview that must list exactly this
// notification.
func (x *Expectation) ObserveUser(u domain.UserInfo, username string, now time.Time) error {
	if u.Username != username {
		return verdict.Conformance(verdict.RuleContent,
			"invalid username in user info",
			fmt.Sprintf("user info username %q, want %q", u.Username, username))
	}
	if len(u.Notifications) != 1 {
		return verdict.Conformance(verdict.RuleSchedule,
			"invalid notifications in user info",
			fmt.Sprintf("user info lists %d notifications, want 1", len(u.Notifications)))
	}
	return x.ObservePrivate(u.Notifications[0], now)
}

// Resolved reports whether every entry has a frozen send time.
func (x *Expectation) Resolved() bool { return Resolved(x.entries) }

// Last returns the final planned instant.
func (x *Expectation) Last() time.Time { return plan.Last(x.entries) }

// Len returns the number of planned firings.
func (x *Expectation) Len() int { return len(x.entries) }

// Snapshot returns a copy of the current plan state.
func (x *Expectation) Snapshot() []domain.PlanEntry { return domain.ClonePlan(x.entries) }
