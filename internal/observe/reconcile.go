// Package observe reconciles what the service reports against what the
// checker has forecast and already seen.
package observe

import (
	"fmt"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

const timeLayout = time.RFC3339Nano

// Reconcile checks one observed plan against the expected plan at time now.
// A send time seen for the first time is frozen into expected; every later
// observation must repeat it exactly. The first violated rule is returned as
// a Conformance error; entries after the failing one are not examined.
func Reconcile(expected, observed []domain.PlanEntry, now time.Time, sla time.Duration) error {
	if len(observed) != len(expected) {
		return verdict.Conformance(verdict.RuleSchedule,
			"invalid notification plan",
			fmt.Sprintf("plan has %d entries, want %d", len(observed), len(expected)))
	}

	for i := range expected {
		want := &expected[i]
		got := observed[i]

		if !got.PlannedAt.Equal(want.PlannedAt) {
			return verdict.Conformance(verdict.RuleSchedule,
				"invalid notification plan",
				fmt.Sprintf("entry %d planned_at %s, want %s", i, fmtTime(got.PlannedAt), fmtTime(want.PlannedAt)))
		}

		switch {
		case now.Before(want.PlannedAt):
			if got.SentAt != nil {
				return verdict.Conformance(verdict.RuleSentBeforeDue,
					"sent_at returned for plan which isn't supposed to be executed yet",
					fmt.Sprintf("entry %d sent_at %s, planned_at %s, now %s",
						i, fmtTime(*got.SentAt), fmtTime(want.PlannedAt), fmtTime(now)))
			}

		case want.SentAt != nil:
			if got.SentAt == nil || !got.SentAt.Equal(*want.SentAt) {
				return verdict.Conformance(verdict.RuleSendTimeChanged,
					"sent_at differs from the previous response",
					fmt.Sprintf("entry %d sent_at %s, previously %s", i, fmtOptTime(got.SentAt), fmtTime(*want.SentAt)))
			}

		case got.SentAt != nil:
			if got.SentAt.Before(want.PlannedAt) {
				return verdict.Conformance(verdict.RuleSentEarly,
					"plan with sent_at earlier than planned_at",
					fmt.Sprintf("entry %d sent_at %s, planned_at %s", i, fmtTime(*got.SentAt), fmtTime(want.PlannedAt)))
			}
			sent := *got.SentAt
			want.SentAt = &sent

		default:
			if deadline := want.PlannedAt.Add(sla); now.After(deadline) {
				return verdict.Conformance(verdict.RuleSLA,
					"sent_at not returned for too long after planned_at",
					fmt.Sprintf("entry %d planned_at %s, deadline %s, now %s",
						i, fmtTime(want.PlannedAt), fmtTime(deadline), fmtTime(now)))
			}
		}
	}
	return nil
}

// Resolved reports whether every entry has a frozen send time.
func Resolved(entries []domain.PlanEntry) bool {
	for _, e := range entries {
		if e.SentAt == nil {
			return false
		}
	}
	return true
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func fmtOptTime(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return fmtTime(*t)
}
