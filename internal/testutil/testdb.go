package testutil

import (
	"database/sql"
	"testing"

	"github.com/alexanderramin/notifyprobe/internal/journal"
)

// NewTestDB creates an in-memory journal database with all migrations
// applied. The database is closed when the test completes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := journal.Open(journal.MemoryPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// NewTestJournal wraps a fresh test database.
func NewTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	return journal.New(NewTestDB(t))
}
