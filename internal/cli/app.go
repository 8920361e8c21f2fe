package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexanderramin/notifyprobe/internal/checker"
	"github.com/alexanderramin/notifyprobe/internal/config"
	"github.com/alexanderramin/notifyprobe/internal/gen"
	"github.com/alexanderramin/notifyprobe/internal/imapbox"
	"github.com/alexanderramin/notifyprobe/internal/journal"
	"github.com/alexanderramin/notifyprobe/internal/logx"
	"github.com/alexanderramin/notifyprobe/internal/notifyapi"
	"github.com/alexanderramin/notifyprobe/internal/poller"
	"github.com/alexanderramin/notifyprobe/internal/roundtrip"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

// Actions is what the commands need from a checker.
type Actions interface {
	Check(ctx context.Context) error
	Put(ctx context.Context, flag string) (roundtrip.Token, error)
	Get(ctx context.Context, flag string, tok roundtrip.Token) error
}

// Journal is the subset of the run journal used by the commands.
type Journal interface {
	Record(ctx context.Context, run *journal.Run, tok *roundtrip.Token) error
	Token(ctx context.Context, idOrPrefix string) (*journal.Run, roundtrip.Token, error)
	History(ctx context.Context, f journal.RunFilter) ([]*journal.Run, error)
}

// BuildFunc wires a checker for one host. poll receives every poll event of
// a check and may be nil.
type BuildFunc func(host string, cfg config.Config, log zerolog.Logger, poll poller.Observer) (Actions, error)

// OpenJournalFunc opens the journal at path. A nil Journal disables
// recording.
type OpenJournalFunc func(path string) (Journal, func() error, error)

// App holds the collaborators shared by all commands. The zero value of each
// field is replaced by the production default.
type App struct {
	Build       BuildFunc
	OpenJournal OpenJournalFunc
	Now         func() time.Time
	// IsTerminal decides whether check --watch renders the live view.
	IsTerminal func(w io.Writer) bool
	// LogWriter receives logs; defaults to the command's stderr.
	LogWriter io.Writer

	cfg     config.Config
	log     zerolog.Logger
	journal Journal
	closeFn func() error
	status  verdict.Status
}

func (a *App) defaults() {
	if a.Build == nil {
		a.Build = NetworkActions
	}
	if a.OpenJournal == nil {
		a.OpenJournal = OpenSQLiteJournal
	}
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.IsTerminal == nil {
		a.IsTerminal = logx.IsTerminal
	}
}

// NetworkActions wires the real HTTP and IMAP adapters.
func NetworkActions(host string, cfg config.Config, log zerolog.Logger, poll poller.Observer) (Actions, error) {
	client, err := notifyapi.NewClient(cfg.NotifyAPI(host), notifyapi.NewLogObserver(log))
	if err != nil {
		return nil, fmt.Errorf("configuring client: %w", err)
	}
	return checker.New(cfg.Checker(), checker.Deps{
		Sessions: func() roundtrip.Session { return client.NewSession() },
		Mail:     imapbox.NewChannel(cfg.Mailbox(host), log),
		Gen:      gen.New(),
		Log:      log.With().Str("host", host).Logger(),
		Poll:     poll,
	}, checker.NewLogUseCaseObserver(log)), nil
}

// OpenSQLiteJournal opens the on-disk journal. An empty path disables it.
func OpenSQLiteJournal(path string) (Journal, func() error, error) {
	if path == "" {
		return nil, func() error { return nil }, nil
	}
	db, err := journal.Open(path)
	if err != nil {
		return nil, nil, err
	}
	j := journal.New(db)
	return j, j.Close, nil
}

// record stores run when journaling is enabled. Failures are logged, never
// allowed to change the verdict.
func (a *App) record(ctx context.Context, run *journal.Run, tok *roundtrip.Token) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Record(ctx, run, tok); err != nil {
		a.log.Warn().Err(err).Str("run_id", run.ID).Msg("journal write failed")
		return
	}
	a.log.Debug().Str("run_id", run.ID).Str("action", string(run.Action)).Msg("run recorded")
}

func (a *App) close() {
	if a.closeFn == nil {
		return
	}
	if err := a.closeFn(); err != nil {
		a.log.Warn().Err(err).Msg("closing journal")
	}
	a.closeFn = nil
}
