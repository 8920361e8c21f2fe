package domain

import "time"

// RepeatSpec describes additional firings after the initial one.
// Interval is whole seconds on the wire.
type RepeatSpec struct {
	Count    int
	Interval time.Duration
}

// CreationParams is everything needed to create a notification and to
// recompute its plan later.
type CreationParams struct {
	Title    string
	Content  string
	NotifyAt time.Time
	Repeat   *RepeatSpec // nil fires exactly once
}

// NewCreationParams builds CreationParams with NotifyAt normalized to UTC at
// microsecond precision, the finest resolution that survives the wire format.
func NewCreationParams(title, content string, notifyAt time.Time, repeat *RepeatSpec) CreationParams {
	return CreationParams{
		Title:    title,
		Content:  content,
		NotifyAt: notifyAt.UTC().Truncate(time.Microsecond),
		Repeat:   repeat,
	}
}

// PlanEntry is one forecast firing. SentAt is nil until the service reports it.
type PlanEntry struct {
	PlannedAt time.Time
	SentAt    *time.Time
}

// Sent reports whether the entry has a send time.
func (e PlanEntry) Sent() bool { return e.SentAt != nil }

// ClonePlan deep-copies a plan so callers never share SentAt pointers.
func ClonePlan(plan []PlanEntry) []PlanEntry {
	out := make([]PlanEntry, len(plan))
	for i, e := range plan {
		out[i].PlannedAt = e.PlannedAt
		if e.SentAt != nil {
			s := *e.SentAt
			out[i].SentAt = &s
		}
	}
	return out
}

// PublicView is what any caller, including anonymous ones, may observe.
type PublicView struct {
	Title string
	Plan  []PlanEntry
}

// PrivateView is visible only to the owning account.
type PrivateView struct {
	ID      string
	Title   string
	Content string
	Plan    []PlanEntry
}

// Public drops the owner-only fields.
func (v PrivateView) Public() PublicView {
	return PublicView{Title: v.Title, Plan: v.Plan}
}

// UserInfo is the owner's account overview.
type UserInfo struct {
	Username      string
	Notifications []PrivateView
}

// Find returns the notification with the given ID.
func (u UserInfo) Find(id string) (PrivateView, bool) {
	for _, n := range u.Notifications {
		if n.ID == id {
			return n, true
		}
	}
	return PrivateView{}, false
}
