// Package corroborate checks the scheduler's claims against the inbox that
// deliveries are supposed to land in.
package corroborate

import (
	"context"
	"fmt"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

// Mailbox is an authenticated view of one account's inbox.
type Mailbox interface {
	Login(ctx context.Context, username, password string) error
	// FetchBySubject returns at most limit messages whose subject equals subject.
	FetchBySubject(ctx context.Context, subject string, limit int) ([]domain.Email, error)
	Close() error
}

// Channel opens mailbox sessions.
type Channel interface {
	Open(ctx context.Context) (Mailbox, error)
}

// Corroborator verifies that every reported delivery reached the inbox.
type Corroborator struct {
	channel Channel
	sender  string
}

// New creates a Corroborator expecting messages from sender.
func New(channel Channel, sender string) *Corroborator {
	return &Corroborator{channel: channel, sender: sender}
}

// Corroborate logs in as acct and requires exactly one message per expected
// plan entry, each carrying want's title and content from the service sender.
// Messages are matched by subject only, so a second notification with the
// same title in the same account would be counted too.
func (c *Corroborator) Corroborate(ctx context.Context, expected []domain.PlanEntry, want domain.PrivateView, acct domain.Account) error {
	mb, err := c.channel.Open(ctx)
	if err != nil {
		return classify("connection establishment", err)
	}
	defer func() {
		// logout failures don't change the outcome
		_ = mb.Close()
	}()

	if err := mb.Login(ctx, acct.Username, acct.Password); err != nil {
		return classify("login", err)
	}

	emails, err := mb.FetchBySubject(ctx, want.Title, len(expected))
	if err != nil {
		return classify("fetch", err)
	}

	if len(emails) != len(expected) {
		return verdict.Corroboration(
			"IMAP fetch returned invalid number of emails after notification completion",
			fmt.Sprintf("got %d emails with subject %q, want %d", len(emails), want.Title, len(expected)))
	}
	for i, e := range emails {
		if err := c.check(i, e, want); err != nil {
			return err
		}
	}
	return nil
}

func (c *Corroborator) check(i int, e domain.Email, want domain.PrivateView) error {
	switch {
	case e.From != c.sender:
		return verdict.Corroboration("IMAP fetch returned invalid notification sender",
			fmt.Sprintf("email %d from %q, want %q", i, e.From, c.sender))
	case e.Subject != want.Title:
		return verdict.Corroboration("IMAP fetch returned invalid notification subject",
			fmt.Sprintf("email %d subject %q, want %q", i, e.Subject, want.Title))
	case e.Text != want.Content:
		return verdict.Corroboration("IMAP fetch returned invalid notification content",
			fmt.Sprintf("email %d body %q, want %q", i, e.Text, want.Content))
	}
	return nil
}

// classify keeps verdicts produced by the mailbox and treats anything else as
// a failed IMAP command.
func classify(action string, err error) error {
	if _, ok := verdict.As(err); ok {
		return err
	}
	return verdict.Wrap(verdict.KindCorroboration, fmt.Sprintf("IMAP %s returned an error", action), err)
}
