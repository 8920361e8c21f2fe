package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/notifyprobe/internal/roundtrip"
)

// Journal records runs and the tokens planted by put runs.
type Journal struct {
	db     *sql.DB
	uow    UnitOfWork
	runs   RunRepo
	tokens TokenRepo
}

// New wraps an opened database.
func New(db *sql.DB) *Journal {
	return NewWithUoW(db, NewSQLiteUnitOfWork(db))
}

// NewWithUoW is New with a caller-supplied transaction boundary.
func NewWithUoW(db *sql.DB, uow UnitOfWork) *Journal {
	return &Journal{
		db:     db,
		uow:    uow,
		runs:   NewSQLiteRunRepo(db),
		tokens: NewSQLiteTokenRepo(db),
	}
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// NewRun starts a run record with a fresh ID.
func NewRun(action Action, host string, startedAt time.Time) *Run {
	return &Run{ID: uuid.NewString(), Action: action, Host: host, StartedAt: startedAt}
}

// Record stores run and, when non-nil, the token it planted. Both rows land
// in one transaction.
func (j *Journal) Record(ctx context.Context, run *Run, tok *roundtrip.Token) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	return j.uow.WithinTx(ctx, func(ctx context.Context, tx DBTX) error {
		if err := NewSQLiteRunRepo(tx).Create(ctx, run); err != nil {
			return err
		}
		if tok == nil {
			return nil
		}
		return NewSQLiteTokenRepo(tx).Save(ctx, run.ID, *tok)
	})
}

// Get returns a run by ID or unambiguous prefix.
func (j *Journal) Get(ctx context.Context, idOrPrefix string) (*Run, error) {
	return j.runs.GetByID(ctx, idOrPrefix)
}

// Token returns the token planted by a put run.
func (j *Journal) Token(ctx context.Context, idOrPrefix string) (*Run, roundtrip.Token, error) {
	run, err := j.runs.GetByID(ctx, idOrPrefix)
	if err != nil {
		return nil, roundtrip.Token{}, err
	}
	if run.Action != ActionPut {
		return nil, roundtrip.Token{}, fmt.Errorf("run %s is a %s run: %w", run.ID, run.Action, ErrNotFound)
	}
	tok, err := j.tokens.GetByRunID(ctx, run.ID)
	if err != nil {
		return nil, roundtrip.Token{}, err
	}
	return run, tok, nil
}

// History lists runs newest first.
func (j *Journal) History(ctx context.Context, f RunFilter) ([]*Run, error) {
	return j.runs.ListRecent(ctx, f)
}

// IsNotFound reports whether err means the journal had no matching entry.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
