// Package checker wires the verification engine into the three actions an
// orchestrator invokes: check, put and get.
package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/corroborate"
	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/observe"
	"github.com/alexanderramin/notifyprobe/internal/plan"
	"github.com/alexanderramin/notifyprobe/internal/poller"
	"github.com/alexanderramin/notifyprobe/internal/roundtrip"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
	"github.com/rs/zerolog"
)

// Generator supplies random accounts and notification bodies.
type Generator interface {
	Intn(n int) int
	Bool() bool
	Username() string
	Password() string
	Title(limit int) string
	Content(flag string, limit int) string
	FakeFlag() string
}

// Config holds the timing and sizing rules for all actions.
type Config struct {
	SLA     time.Duration
	Grace   time.Duration
	Cadence time.Duration
	Timeout time.Duration // overall budget per action

	RoundTime      time.Duration
	FlagLifetime   int // rounds
	MaxRepeatCount int

	Sender string
}

// DefaultConfig returns the service's published timings.
func DefaultConfig() Config {
	return Config{
		SLA:            2 * time.Second,
		Grace:          time.Second,
		Cadence:        500 * time.Millisecond,
		Timeout:        30 * time.Second,
		RoundTime:      time.Minute,
		FlagLifetime:   10,
		MaxRepeatCount: 10,
		Sender:         "notifier@notify",
	}
}

// TokenMaxAge is how long a planted token stays verifiable.
func (c Config) TokenMaxAge() time.Duration {
	return time.Duration(c.FlagLifetime+1) * c.RoundTime
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Sessions roundtrip.SessionFactory
	Mail     corroborate.Channel
	Gen      Generator
	Clock    poller.Clock
	Log      zerolog.Logger
	// Poll receives every poll event of Check, after logging.
	Poll poller.Observer
}

// Service runs check actions against one host.
type Service struct {
	cfg      Config
	deps     Deps
	observer UseCaseObserver
}

// New creates a Service.
func New(cfg Config, deps Deps, observers ...UseCaseObserver) *Service {
	if deps.Clock == nil {
		deps.Clock = poller.SystemClock{}
	}
	return &Service{cfg: cfg, deps: deps, observer: useCaseObserverOrNoop(observers)}
}

func (s *Service) observe(ctx context.Context, name string, startedAt time.Time, fields map[string]any, err error) {
	s.observer.ObserveUseCase(ctx, UseCaseEvent{
		Name:      name,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Success:   err == nil,
		Err:       err,
		Fields:    fields,
	})
}

// withDeadline bounds ctx by the action budget and converts its expiry into
// a Deadline verdict.
func (s *Service) withDeadline(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	err := fn(ctx)
	if err != nil && ctx.Err() != nil && !verdict.IsKind(err, verdict.KindDeadline) {
		if _, ok := verdict.As(err); !ok || errors.Is(err, context.DeadlineExceeded) {
			return verdict.Deadline(err.Error())
		}
	}
	return err
}

func (s *Service) account() domain.Account {
	return domain.Account{Username: s.deps.Gen.Username(), Password: s.deps.Gen.Password()}
}

// checkParams draws a short schedule that completes within ten seconds.
func (s *Service) checkParams() domain.CreationParams {
	g := s.deps.Gen
	title := g.Title(50)
	flag := ""
	if g.Bool() {
		flag = g.FakeFlag()
	}
	content := g.Content(flag, 200)

	notifyIn := 3 + g.Intn(4)
	interval := g.Intn((10-notifyIn)/2 + 2)
	var repeat *domain.RepeatSpec
	if interval != 0 {
		repeat = &domain.RepeatSpec{
			Count:    1 + g.Intn((10-notifyIn)/interval),
			Interval: time.Duration(interval) * time.Second,
		}
	}
	notifyAt := s.deps.Clock.Now().Add(time.Duration(notifyIn) * time.Second)
	return domain.NewCreationParams(title, content, notifyAt, repeat)
}

// Check exercises the full notification lifecycle: two fresh accounts, one
// short schedule polled from three vantages until it completes, a re-login
// and finally the inbox.
func (s *Service) Check(ctx context.Context) (err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() { s.observe(ctx, "check", startedAt, fields, err) }()

	return s.withDeadline(ctx, func(ctx context.Context) error {
		return s.check(ctx, fields)
	})
}

func (s *Service) check(ctx context.Context, fields map[string]any) error {
	log := s.deps.Log

	acctA := s.account()
	sa := s.deps.Sessions()
	if err := sa.Register(ctx, acctA); err != nil {
		return err
	}
	log.Debug().Str("username", acctA.Username).Msg("registered owner")

	fresh, err := sa.User(ctx)
	if err != nil {
		return err
	}
	if fresh.Username != acctA.Username || len(fresh.Notifications) != 0 {
		return verdict.Conformance(verdict.RuleNone,
			"GET /user returned invalid info for new user",
			fmt.Sprintf("got %q with %d notifications, want %q with none", fresh.Username, len(fresh.Notifications), acctA.Username))
	}

	acctB := s.account()
	sb := s.deps.Sessions()
	if err := sb.Register(ctx, acctB); err != nil {
		return err
	}
	log.Debug().Str("username", acctB.Username).Msg("registered second account")

	params := s.checkParams()
	id, err := sa.CreateNotification(ctx, params)
	if err != nil {
		return err
	}
	exp := observe.NewExpectation(id, params, s.cfg.SLA)
	fields["notification_id"] = id
	fields["firings"] = exp.Len()
	log.Info().Str("notification_id", id).Int("firings", exp.Len()).
		Time("notify_at", params.NotifyAt).Msg("notification created")

	info, err := sa.User(ctx)
	if err != nil {
		return err
	}
	if err := exp.ObserveUser(info, acctA.Username, s.deps.Clock.Now()); err != nil {
		return err
	}
	view, err := sa.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if err := exp.ObserveView(view, s.deps.Clock.Now()); err != nil {
		return err
	}

	vantages := []poller.Vantage{
		sessionVantage{name: domain.VantageOwner, s: sa},
		sessionVantage{name: domain.VantageOther, s: sb},
		sessionVantage{name: domain.VantageAnonymous, s: s.deps.Sessions()},
	}
	final := []poller.Vantage{&reloginVantage{sessions: s.deps.Sessions, acct: acctA}}

	p := poller.New(
		poller.Config{Cadence: s.cfg.Cadence, Grace: s.cfg.Grace},
		s.deps.Clock, vantages, final,
		pollLogger{log: log, next: s.deps.Poll},
	)
	m := poller.NewMachine(exp, s.cfg.Grace)
	if err := p.Run(ctx, m); err != nil {
		return err
	}
	log.Info().Str("notification_id", id).Msg("schedule settled")

	want := plan.Private(id, params)
	if err := corroborate.New(s.deps.Mail, s.cfg.Sender).Corroborate(ctx, exp.Snapshot(), want, acctA); err != nil {
		return err
	}
	log.Info().Int("emails", exp.Len()).Msg("inbox corroborated")
	return nil
}

// putSeeds draws 1 to 5 notifications whose repeats outlive the flag.
func (s *Service) putSeeds(flag string) []roundtrip.Seed {
	g := s.deps.Gen
	now := s.deps.Clock.Now()
	lifetime := time.Duration(s.cfg.FlagLifetime)*s.cfg.RoundTime + s.cfg.RoundTime

	n := 1 + g.Intn(5)
	seeds := make([]roundtrip.Seed, 0, n)
	for i := 0; i < n; i++ {
		secret := i == 0 || g.Bool()
		title := g.Title(20)
		content := g.Content("", 75)
		if secret {
			content = g.Content(flag, 75)
		}
		notifyIn := time.Duration(5+g.Intn(15)) * time.Second
		interval := time.Duration(25+g.Intn(15)) * time.Second
		count := min(int(lifetime/interval), s.cfg.MaxRepeatCount)

		seeds = append(seeds, roundtrip.Seed{
			Params: domain.NewCreationParams(title, content, now.Add(notifyIn),
				&domain.RepeatSpec{Count: count, Interval: interval}),
			Secret: secret,
		})
	}
	return seeds
}

// Put plants flag in a fresh account and returns the token needed to verify
// it later.
func (s *Service) Put(ctx context.Context, flag string) (tok roundtrip.Token, err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() { s.observe(ctx, "put", startedAt, fields, err) }()

	err = s.withDeadline(ctx, func(ctx context.Context) error {
		seeds := s.putSeeds(flag)
		fields["notifications"] = len(seeds)

		planter := roundtrip.NewPlanter(s.deps.Sessions, s.cfg.SLA, s.deps.Clock.Now)
		var rec roundtrip.Record
		var perr error
		tok, rec, perr = planter.Plant(ctx, s.account(), seeds)
		if perr != nil {
			return perr
		}
		s.deps.Log.Info().Str("username", rec.Account.Username).
			Int("notifications", len(rec.Notifications)).
			Str("public", tok.Public).Msg("planted")
		return nil
	})
	if err != nil {
		return roundtrip.Token{}, err
	}
	return tok, nil
}

// Get verifies a token produced by Put. The flag must appear in every
// notification the public half names. Orchestrators that hand back only the
// private half get a weaker check: some notification must carry the flag.
func (s *Service) Get(ctx context.Context, flag string, tok roundtrip.Token) (err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() { s.observe(ctx, "get", startedAt, fields, err) }()

	return s.withDeadline(ctx, func(ctx context.Context) error {
		var ids []string
		if tok.Public != "" {
			var err error
			if ids, err = roundtrip.DecodePublic(tok.Public); err != nil {
				return err
			}
		}

		v := roundtrip.NewVerifier(s.deps.Sessions, roundtrip.VerifierConfig{
			SLA:    s.cfg.SLA,
			MaxAge: s.cfg.TokenMaxAge(),
			Now:    s.deps.Clock.Now,
		})
		rec, err := v.Verify(ctx, tok)
		if err != nil {
			return err
		}
		fields["notifications"] = len(rec.Notifications)

		return checkFlag(rec, ids, flag)
	})
}

func checkFlag(rec roundtrip.Record, ids []string, flag string) error {
	if ids == nil {
		return checkAnyFlag(rec, flag)
	}
	if len(ids) == 0 {
		return verdict.Protocol("invalid public token", "no secret-bearing notifications listed")
	}
	contents := make(map[string]string, len(rec.Notifications))
	for _, n := range rec.Notifications {
		contents[n.ID] = n.Params.Content
	}
	for _, id := range ids {
		content, ok := contents[id]
		if !ok {
			return verdict.Protocol("invalid public token",
				fmt.Sprintf("notification %s is not part of the private token", id))
		}
		if flag != "" && !strings.Contains(content, flag) {
			return verdict.Lost("flag not found in notification content",
				fmt.Sprintf("notification %s does not contain the flag", id))
		}
	}
	return nil
}

func checkAnyFlag(rec roundtrip.Record, flag string) error {
	if flag == "" {
		return nil
	}
	for _, n := range rec.Notifications {
		if strings.Contains(n.Params.Content, flag) {
			return nil
		}
	}
	return verdict.Lost("flag not found in notification content",
		fmt.Sprintf("none of %d notifications contains the flag", len(rec.Notifications)))
}
