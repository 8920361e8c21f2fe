package roundtrip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/observe"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

var (
	// ErrNoSecret is returned by Plant when no seed carries the secret.
	ErrNoSecret = errors.New("at least one notification must carry the secret")
	// ErrExpired marks a token older than the verifier accepts.
	ErrExpired = errors.New("token expired")
)

// Session is one authenticated conversation with the service.
type Session interface {
	Register(ctx context.Context, acct domain.Account) error
	Login(ctx context.Context, acct domain.Account) error
	CreateNotification(ctx context.Context, p domain.CreationParams) (string, error)
	GetNotification(ctx context.Context, id string) (domain.PublicView, error)
	User(ctx context.Context) (domain.UserInfo, error)
}

// SessionFactory opens a fresh session with an empty cookie jar.
type SessionFactory func() Session

// Seed is a notification to plant.
type Seed struct {
	Params domain.CreationParams
	Secret bool
}

// Planter creates notifications and packs what it did into a Token.
type Planter struct {
	sessions SessionFactory
	sla      time.Duration
	now      func() time.Time
}

// NewPlanter creates a Planter. now defaults to time.Now.
func NewPlanter(sessions SessionFactory, sla time.Duration, now func() time.Time) *Planter {
	if now == nil {
		now = time.Now
	}
	return &Planter{sessions: sessions, sla: sla, now: now}
}

// Plant registers acct, creates one notification per seed and checks that
// each reads back as created. The public half of the token lists the IDs of
// the secret-bearing seeds.
func (p *Planter) Plant(ctx context.Context, acct domain.Account, seeds []Seed) (Token, Record, error) {
	if !anySecret(seeds) {
		return Token{}, Record{}, ErrNoSecret
	}

	s := p.sessions()
	if err := s.Register(ctx, acct); err != nil {
		return Token{}, Record{}, err
	}

	rec := Record{Account: acct}
	var secretIDs []string
	for _, seed := range seeds {
		id, err := s.CreateNotification(ctx, seed.Params)
		if err != nil {
			return Token{}, Record{}, err
		}
		rec.Notifications = append(rec.Notifications, Planted{ID: id, Params: seed.Params})
		if seed.Secret {
			secretIDs = append(secretIDs, id)
		}
	}

	for _, n := range rec.Notifications {
		view, err := s.GetNotification(ctx, n.ID)
		if err != nil {
			return Token{}, Record{}, err
		}
		exp := observe.NewExpectation(n.ID, n.Params, p.sla)
		if err := exp.ObserveView(view, p.now()); err != nil {
			return Token{}, Record{}, err
		}
	}

	private, err := EncodePrivate(rec)
	if err != nil {
		return Token{}, Record{}, err
	}
	public, err := EncodePublic(secretIDs)
	if err != nil {
		return Token{}, Record{}, err
	}
	return Token{Public: public, Private: private}, rec, nil
}

func anySecret(seeds []Seed) bool {
	for _, s := range seeds {
		if s.Secret {
			return true
		}
	}
	return false
}

// VerifierConfig tunes Verify.
type VerifierConfig struct {
	SLA time.Duration
	// MaxAge bounds how long after its newest notify time a token is still
	// accepted. Zero disables the check.
	MaxAge time.Duration
	Now    func() time.Time
}

// Verifier checks planted notifications using only a token.
type Verifier struct {
	sessions SessionFactory
	cfg      VerifierConfig
}

// NewVerifier creates a Verifier.
func NewVerifier(sessions SessionFactory, cfg VerifierConfig) *Verifier {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{sessions: sessions, cfg: cfg}
}

// Verify decodes the private half, logs in with the recovered credentials and
// requires every planted notification to still be present and unaltered.
// Missing or altered data is reported as Lost; timing violations stay
// Conformance.
func (v *Verifier) Verify(ctx context.Context, tok Token) (Record, error) {
	rec, err := DecodePrivate(tok.Private)
	if err != nil {
		return Record{}, err
	}
	if v.cfg.MaxAge > 0 {
		if age := v.cfg.Now().Sub(rec.Newest()); age > v.cfg.MaxAge {
			return Record{}, verdict.Wrap(verdict.KindProtocol, "token expired",
				fmt.Errorf("%w: newest notification is %s old, limit %s", ErrExpired, age.Round(time.Second), v.cfg.MaxAge))
		}
	}

	s := v.sessions()
	if err := s.Login(ctx, rec.Account); err != nil {
		return Record{}, lost(err)
	}

	exps := make(map[string]*observe.Expectation, len(rec.Notifications))
	for _, n := range rec.Notifications {
		exp := observe.NewExpectation(n.ID, n.Params, v.cfg.SLA)
		exps[n.ID] = exp

		view, err := s.GetNotification(ctx, n.ID)
		if err != nil {
			return Record{}, lost(err)
		}
		if err := exp.ObserveView(view, v.cfg.Now()); err != nil {
			return Record{}, lost(err)
		}
	}

	info, err := s.User(ctx)
	if err != nil {
		return Record{}, err
	}
	now := v.cfg.Now()
	if info.Username != rec.Account.Username {
		return Record{}, verdict.Lost("GET /user returned invalid username",
			fmt.Sprintf("got %q, want %q", info.Username, rec.Account.Username))
	}
	if len(info.Notifications) != len(rec.Notifications) {
		return Record{}, verdict.Lost("GET /user returned invalid notifications",
			fmt.Sprintf("got %d notifications, want %d", len(info.Notifications), len(rec.Notifications)))
	}
	for _, n := range rec.Notifications {
		got, ok := info.Find(n.ID)
		if !ok {
			return Record{}, verdict.Lost("GET /user returned invalid notifications",
				fmt.Sprintf("notification %s is not listed", n.ID))
		}
		if err := exps[n.ID].ObservePrivate(got, now); err != nil {
			return Record{}, lost(err)
		}
	}
	return rec, nil
}

// lost reclassifies failures that mean planted data is gone or altered.
func lost(err error) error {
	e, ok := verdict.As(err)
	if !ok {
		return err
	}
	switch e.Kind {
	case verdict.KindRejected:
		return verdict.Reclassify(err, verdict.KindLost)
	case verdict.KindConformance:
		switch e.Rule {
		case verdict.RuleTitle, verdict.RuleContent, verdict.RuleSchedule, verdict.RuleSendTimeChanged:
			return verdict.Reclassify(err, verdict.KindLost)
		}
	}
	return err
}
