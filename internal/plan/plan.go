// Package plan forecasts the delivery instants a correct scheduler must
// produce for a notification.
package plan

import (
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
)

// Compute returns the ordered plan for a notification: the initial firing at
// notifyAt followed by repeat.Count firings spaced repeat.Interval apart.
// Every entry has a nil SentAt. The result depends only on the arguments.
func Compute(notifyAt time.Time, repeat *domain.RepeatSpec) []domain.PlanEntry {
	n := 1
	if repeat != nil && repeat.Count > 0 {
		n += repeat.Count
	}

	entries := make([]domain.PlanEntry, n)
	entries[0].PlannedAt = notifyAt
	for i := 1; i < n; i++ {
		entries[i].PlannedAt = entries[i-1].PlannedAt.Add(repeat.Interval)
	}
	return entries
}

// ForParams computes the plan for stored creation parameters.
func ForParams(p domain.CreationParams) []domain.PlanEntry {
	return Compute(p.NotifyAt, p.Repeat)
}

// Public derives the public view a correct service reports for p.
func Public(p domain.CreationParams) domain.PublicView {
	return domain.PublicView{Title: p.Title, Plan: ForParams(p)}
}

// Private derives the owner's view a correct service reports for p.
func Private(id string, p domain.CreationParams) domain.PrivateView {
	return domain.PrivateView{
		ID:      id,
		Title:   p.Title,
		Content: p.Content,
		Plan:    ForParams(p),
	}
}

// Last returns the final planned instant. The plan must not be empty.
func Last(entries []domain.PlanEntry) time.Time {
	return entries[len(entries)-1].PlannedAt
}
