package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/roundtrip"
)

// TokenRepo stores the tokens produced by put runs.
type TokenRepo interface {
	Save(ctx context.Context, runID string, tok roundtrip.Token) error
	GetByRunID(ctx context.Context, runID string) (roundtrip.Token, error)
}

// SQLiteTokenRepo implements TokenRepo.
type SQLiteTokenRepo struct {
	db DBTX
}

// NewSQLiteTokenRepo creates a new SQLiteTokenRepo.
func NewSQLiteTokenRepo(db DBTX) *SQLiteTokenRepo {
	return &SQLiteTokenRepo{db: db}
}

func (r *SQLiteTokenRepo) Save(ctx context.Context, runID string, tok roundtrip.Token) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (run_id, public, private, created_at) VALUES (?, ?, ?, ?)`,
		runID, tok.Public, tok.Private, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

func (r *SQLiteTokenRepo) GetByRunID(ctx context.Context, runID string) (roundtrip.Token, error) {
	var tok roundtrip.Token
	err := r.db.QueryRowContext(ctx, `SELECT public, private FROM tokens WHERE run_id = ?`, runID).
		Scan(&tok.Public, &tok.Private)
	if errors.Is(err, sql.ErrNoRows) {
		return roundtrip.Token{}, fmt.Errorf("token for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return roundtrip.Token{}, fmt.Errorf("loading token: %w", err)
	}
	return tok, nil
}
