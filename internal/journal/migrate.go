package journal

import (
	"database/sql"
	"fmt"
	"strings"
)

// Migrate applies the schema. Every statement is idempotent so it runs on
// each open.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		action      TEXT NOT NULL CHECK(action IN ('check','put','get')),
		host        TEXT NOT NULL,
		status      INTEGER NOT NULL CHECK(status BETWEEN 101 AND 104),
		public      TEXT NOT NULL DEFAULT '',
		private     TEXT NOT NULL DEFAULT '',
		started_at  TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_host_action ON runs(host, action)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		run_id      TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
		public      TEXT NOT NULL,
		private     TEXT NOT NULL,
		created_at  TEXT NOT NULL
	)`,
	`ALTER TABLE runs ADD COLUMN flag_id TEXT NOT NULL DEFAULT ''`,
}
