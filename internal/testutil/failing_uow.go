package testutil

import (
	"context"
	"database/sql"

	"github.com/alexanderramin/notifyprobe/internal/journal"
)

// JournalWriteFault is a journal.UnitOfWork whose transactions fail their
// FailAt-th write with Err. Journal.Record writes the run before its token,
// so FailAt 2 leaves a run row behind that must be rolled back. Zero never
// fails.
type JournalWriteFault struct {
	DB     *sql.DB
	FailAt int
	Err    error
}

func (f *JournalWriteFault) WithinTx(ctx context.Context, fn func(ctx context.Context, tx journal.DBTX) error) error {
	return journal.NewSQLiteUnitOfWork(f.DB).WithinTx(ctx, func(ctx context.Context, tx journal.DBTX) error {
		return fn(ctx, &faultyTx{DBTX: tx, fault: f})
	})
}

// faultyTx counts writes within one transaction; reads pass through.
type faultyTx struct {
	journal.DBTX
	fault  *JournalWriteFault
	writes int
}

func (t *faultyTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.writes++
	if t.writes == t.fault.FailAt {
		return nil, t.fault.Err
	}
	return t.DBTX.ExecContext(ctx, query, args...)
}
