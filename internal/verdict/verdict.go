// Package verdict defines the outcome taxonomy shared by every check action.
//
// A run ends either successfully (StatusOK) or with an *Error whose Kind
// decides the reported Status. Outages and conformance violations are kept
// apart so an operator can tell "service down" from "service wrong".
package verdict

import (
	"errors"
	"fmt"
)

// Status is the numeric outcome reported by the process exit code.
type Status int

const (
	StatusOK      Status = 101
	StatusCorrupt Status = 102
	StatusMumble  Status = 103
	StatusDown    Status = 104
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCorrupt:
		return "CORRUPT"
	case StatusMumble:
		return "MUMBLE"
	case StatusDown:
		return "DOWN"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// Kind classifies why a run failed.
type Kind string

const (
	KindOutage        Kind = "outage"
	KindDeadline      Kind = "deadline"
	KindProtocol      Kind = "protocol"
	KindRejected      Kind = "rejected"
	KindConformance   Kind = "conformance"
	KindCorroboration Kind = "corroboration"
	KindLost          Kind = "lost"
)

// Status maps a failure kind to the status it is reported with.
func (k Kind) Status() Status {
	switch k {
	case KindOutage, KindDeadline:
		return StatusDown
	case KindLost:
		return StatusCorrupt
	default:
		return StatusMumble
	}
}

// Rule names the reconcile invariant a Conformance error violated.
type Rule string

const (
	RuleNone            Rule = ""
	RuleTitle           Rule = "title"
	RuleContent         Rule = "content"
	RuleSchedule        Rule = "schedule"
	RuleSentBeforeDue   Rule = "sent_before_due"
	RuleSendTimeChanged Rule = "send_time_changed"
	RuleSentEarly       Rule = "sent_early"
	RuleSLA             Rule = "sla"
)

// Error is a classified checker failure. Public is the short summary shown to
// operators; Private carries the detailed cause.
type Error struct {
	Kind    Kind
	Rule    Rule
	Public  string
	Private string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Public)
	if e.Private != "" {
		msg += ": " + e.Private
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the status this error is reported with.
func (e *Error) Status() Status { return e.Kind.Status() }

// New creates an Error of the given kind.
func New(kind Kind, public, private string) *Error {
	return &Error{Kind: kind, Public: public, Private: private}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, public string, err error) *Error {
	return &Error{Kind: kind, Public: public, Err: err}
}

func Outage(public, private string) *Error   { return New(KindOutage, public, private) }
func Protocol(public, private string) *Error { return New(KindProtocol, public, private) }
func Rejected(public, private string) *Error { return New(KindRejected, public, private) }
func Lost(public, private string) *Error     { return New(KindLost, public, private) }

func Corroboration(public, private string) *Error {
	return New(KindCorroboration, public, private)
}

// Conformance creates a Conformance error for the violated rule.
func Conformance(rule Rule, public, private string) *Error {
	return &Error{Kind: KindConformance, Rule: rule, Public: public, Private: private}
}

// Deadline reports that the overall run budget ran out.
func Deadline(private string) *Error {
	return New(KindDeadline, "check timed out", private)
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries a verdict of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// StatusOf maps any error to the status it should be reported with.
// Unclassified errors are treated as functional defects.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if e, ok := As(err); ok {
		return e.Status()
	}
	return StatusMumble
}

// Describe returns the public and private halves for any error.
func Describe(err error) (public, private string) {
	if err == nil {
		return "", ""
	}
	e, ok := As(err)
	if !ok {
		return "unexpected checker error", err.Error()
	}
	private = e.Private
	if e.Err != nil {
		if private != "" {
			private += ": "
		}
		private += e.Err.Error()
	}
	return e.Public, private
}

// Reclassify returns a copy of err's verdict with a new kind, preserving the
// public and private messages. Errors without a verdict are returned as is.
func Reclassify(err error, kind Kind) error {
	e, ok := As(err)
	if !ok {
		return err
	}
	out := *e
	out.Kind = kind
	return &out
}
