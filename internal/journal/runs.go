package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no journal entry matches.
var ErrNotFound = errors.New("journal entry not found")

// Action names a checker action.
type Action string

const (
	ActionCheck Action = "check"
	ActionPut   Action = "put"
	ActionGet   Action = "get"
)

// Run is one recorded checker invocation.
type Run struct {
	ID        string
	Action    Action
	Host      string
	Status    verdict.Status
	Public    string
	Private   string
	FlagID    string
	StartedAt time.Time
	Duration  time.Duration
}

// RunRepo stores runs.
type RunRepo interface {
	Create(ctx context.Context, r *Run) error
	GetByID(ctx context.Context, idOrPrefix string) (*Run, error)
	ListRecent(ctx context.Context, filter RunFilter) ([]*Run, error)
}

// RunFilter narrows ListRecent. Zero values match everything.
type RunFilter struct {
	Host   string
	Action Action
	Limit  int
}

// SQLiteRunRepo implements RunRepo.
type SQLiteRunRepo struct {
	db DBTX
}

// NewSQLiteRunRepo creates a new SQLiteRunRepo.
func NewSQLiteRunRepo(db DBTX) *SQLiteRunRepo {
	return &SQLiteRunRepo{db: db}
}

func (r *SQLiteRunRepo) Create(ctx context.Context, run *Run) error {
	query := `INSERT INTO runs (id, action, host, status, public, private, flag_id, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		string(run.Action),
		run.Host,
		int(run.Status),
		run.Public,
		run.Private,
		run.FlagID,
		run.StartedAt.UTC().Format(timeLayout),
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// GetByID accepts a full ID or an unambiguous prefix.
func (r *SQLiteRunRepo) GetByID(ctx context.Context, idOrPrefix string) (*Run, error) {
	query := `SELECT id, action, host, status, public, private, flag_id, started_at, duration_ms
		FROM runs WHERE id = ? OR id LIKE ? || '%' ORDER BY id = ? DESC LIMIT 2`
	rows, err := r.db.QueryContext(ctx, query, idOrPrefix, idOrPrefix, idOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	switch {
	case len(runs) == 0:
		return nil, fmt.Errorf("run %q: %w", idOrPrefix, ErrNotFound)
	case runs[0].ID == idOrPrefix || len(runs) == 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("run prefix %q is ambiguous", idOrPrefix)
	}
}

func (r *SQLiteRunRepo) ListRecent(ctx context.Context, f RunFilter) ([]*Run, error) {
	query := `SELECT id, action, host, status, public, private, flag_id, started_at, duration_ms
		FROM runs
		WHERE (? = '' OR host = ?) AND (? = '' OR action = ?)
		ORDER BY started_at DESC`
	args := []any{f.Host, f.Host, string(f.Action), string(f.Action)}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var (
			run        Run
			action     string
			status     int
			startedAt  string
			durationMs int64
		)
		if err := rows.Scan(&run.ID, &action, &run.Host, &status, &run.Public, &run.Private,
			&run.FlagID, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Action = Action(action)
		run.Status = verdict.Status(status)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		t, err := time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at %q: %w", startedAt, err)
		}
		run.StartedAt = t
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
