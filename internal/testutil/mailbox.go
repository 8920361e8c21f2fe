package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/alexanderramin/notifyprobe/internal/corroborate"
	"github.com/alexanderramin/notifyprobe/internal/domain"
)

// Mailbox is an in-memory inbox per account. It implements
// corroborate.Channel.
type Mailbox struct {
	auth func(username, password string) bool

	mu      sync.Mutex
	inbox   map[string][]domain.Email
	opened  int
	closed  int
	OpenErr error
}

var _ corroborate.Channel = (*Mailbox)(nil)

// NewMailbox creates a Mailbox that accepts any password.
func NewMailbox() *Mailbox {
	return newMailbox(func(string, string) bool { return true })
}

func newMailbox(auth func(username, password string) bool) *Mailbox {
	return &Mailbox{auth: auth, inbox: make(map[string][]domain.Email)}
}

// Deliver appends e to username's inbox.
func (m *Mailbox) Deliver(username string, e domain.Email) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox[username] = append(m.inbox[username], e)
}

// Inbox returns a copy of username's messages in delivery order.
func (m *Mailbox) Inbox(username string) []domain.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Email(nil), m.inbox[username]...)
}

// Sessions reports how many mailbox sessions were opened and closed.
func (m *Mailbox) Sessions() (opened, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

func (m *Mailbox) Open(ctx context.Context) (corroborate.Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.opened++
	return &mailSession{box: m}, nil
}

type mailSession struct {
	box  *Mailbox
	user string
}

func (s *mailSession) Login(_ context.Context, username, password string) error {
	if !s.box.auth(username, password) {
		return errors.New("[AUTHENTICATIONFAILED] invalid credentials")
	}
	s.user = username
	return nil
}

func (s *mailSession) FetchBySubject(_ context.Context, subject string, limit int) ([]domain.Email, error) {
	if s.user == "" {
		return nil, errors.New("not authenticated")
	}
	var out []domain.Email
	for _, e := range s.box.Inbox(s.user) {
		if len(out) == limit {
			break
		}
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *mailSession) Close() error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.closed++
	return nil
}
