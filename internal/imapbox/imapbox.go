// Package imapbox reads delivered notifications from the service's IMAP
// server.
package imapbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/corroborate"
	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"
)

// Config holds the mailbox connection settings.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// DefaultConfig returns plain IMAP on port 143 with a one second budget per
// command.
func DefaultConfig(host string) Config {
	return Config{Host: host, Port: 143, Timeout: time.Second}
}

// Channel dials the IMAP server. It implements corroborate.Channel.
type Channel struct {
	cfg Config
	log zerolog.Logger
}

// NewChannel creates a Channel.
func NewChannel(cfg Config, log zerolog.Logger) *Channel {
	return &Channel{cfg: cfg, log: log.With().Str("component", "imapbox").Logger()}
}

// Open connects without TLS, as the service only offers plain IMAP.
func (ch *Channel) Open(ctx context.Context) (corroborate.Mailbox, error) {
	addr := net.JoinHostPort(ch.cfg.Host, strconv.Itoa(ch.cfg.Port))
	d := net.Dialer{Timeout: ch.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify("connection establishment", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(ch.cfg.Timeout))
	c, err := client.New(conn)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, classify("connection establishment", err)
	}
	c.Timeout = ch.cfg.Timeout
	ch.log.Debug().Str("addr", addr).Msg("imap connected")

	return &Mailbox{c: c, conn: conn, timeout: ch.cfg.Timeout, stop: stop, log: ch.log}, nil
}

// Mailbox is one IMAP session.
type Mailbox struct {
	c       *client.Client
	conn    net.Conn
	timeout time.Duration
	stop    func() bool
	log     zerolog.Logger
}

func (m *Mailbox) arm() {
	_ = m.conn.SetDeadline(time.Now().Add(m.timeout))
}

// Login authenticates with the account credentials.
func (m *Mailbox) Login(_ context.Context, username, password string) error {
	m.arm()
	if err := m.c.Login(username, password); err != nil {
		return classify("login", err)
	}
	m.log.Debug().Str("username", username).Msg("imap logged in")
	return nil
}

// FetchBySubject searches INBOX for subject and returns the first limit
// matches in mailbox order.
func (m *Mailbox) FetchBySubject(_ context.Context, subject string, limit int) ([]domain.Email, error) {
	m.arm()
	if _, err := m.c.Select("INBOX", true); err != nil {
		return nil, classify("fetch", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", subject)
	m.arm()
	ids, err := m.c.Search(criteria)
	if err != nil {
		return nil, classify("fetch", err)
	}
	if len(ids) == 0 || limit <= 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	seq := new(imap.SeqSet)
	seq.AddNum(ids...)
	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, len(ids))
	m.arm()
	if err := m.c.Fetch(seq, []imap.FetchItem{section.FetchItem()}, messages); err != nil {
		return nil, classify("fetch", err)
	}

	var fetched []*imap.Message
	for msg := range messages {
		fetched = append(fetched, msg)
	}
	sort.Slice(fetched, func(i, j int) bool { return fetched[i].SeqNum < fetched[j].SeqNum })

	emails := make([]domain.Email, 0, len(fetched))
	for _, msg := range fetched {
		body := msg.GetBody(section)
		if body == nil {
			return nil, verdict.Corroboration("IMAP fetch returned invalid emails",
				fmt.Sprintf("message %d has no body", msg.SeqNum))
		}
		e, err := parseEmail(body)
		if err != nil {
			return nil, verdict.Corroboration("IMAP fetch returned invalid emails",
				fmt.Sprintf("message %d: %v", msg.SeqNum, err))
		}
		emails = append(emails, e)
	}
	m.log.Debug().Str("subject", subject).Int("matches", len(emails)).Msg("imap fetched")
	return emails, nil
}

// Close logs out and drops the connection.
func (m *Mailbox) Close() error {
	defer m.stop()
	m.arm()
	err := m.c.Logout()
	if cerr := m.conn.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}

func parseEmail(r io.Reader) (domain.Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return domain.Email{}, err
	}
	defer mr.Close()

	var e domain.Email
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		e.From = from[0].Address
	}
	if e.Subject, err = mr.Header.Subject(); err != nil {
		return domain.Email{}, err
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Email{}, err
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		if ct, _, _ := h.ContentType(); ct != "" && !strings.HasPrefix(ct, "text/plain") {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return domain.Email{}, err
		}
		e.Text = string(b)
		break
	}
	return e, nil
}

// classify mirrors the API transport: refused connections and timeouts mean
// the mail server is down, anything else is a failed command.
func classify(action string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return verdict.Outage("IMAP connection error", fmt.Sprintf("Got IMAP connection error on %s: %v", action, err))
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return verdict.Outage("IMAP request timeout", fmt.Sprintf("Got IMAP request timeout on %s", action))
	case action == "connection establishment":
		return verdict.Outage("IMAP connection error", fmt.Sprintf("Got IMAP connection error on %s: %v", action, err))
	default:
		return verdict.Corroboration(fmt.Sprintf("IMAP %s returned an error", action),
			fmt.Sprintf("Got IMAP error on %s: %v", action, err))
	}
}
