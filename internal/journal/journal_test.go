package journal_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/journal"
	"github.com/alexanderramin/notifyprobe/internal/roundtrip"
	"github.com/alexanderramin/notifyprobe/internal/testutil"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var started = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func okRun(action journal.Action, host string, at time.Time) *journal.Run {
	run := journal.NewRun(action, host, at)
	run.Status = verdict.StatusOK
	return run
}

func TestMigrate_Idempotent(t *testing.T) {
	db := testutil.NewTestDB(t)
	require.NoError(t, journal.Migrate(db))
	require.NoError(t, journal.Migrate(db))
}

func TestOpen_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	db, err := journal.Open(path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestRecord_PutWithToken(t *testing.T) {
	ctx := context.Background()
	j := testutil.NewTestJournal(t)

	run := okRun(journal.ActionPut, "10.0.0.5", started)
	run.FlagID = "flag-1"
	run.Duration = 1500 * time.Millisecond
	tok := roundtrip.Token{Public: `["a"]`, Private: "blob"}
	require.NoError(t, j.Record(ctx, run, &tok))

	got, gotTok, err := j.Token(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, tok, gotTok)
	assert.Equal(t, journal.ActionPut, got.Action)
	assert.Equal(t, "10.0.0.5", got.Host)
	assert.Equal(t, verdict.StatusOK, got.Status)
	assert.Equal(t, "flag-1", got.FlagID)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.True(t, got.StartedAt.Equal(started))
}

func TestRecord_RollsBackRunWhenTokenFails(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	boom := errors.New("disk full")
	j := journal.NewWithUoW(db, &testutil.JournalWriteFault{DB: db, FailAt: 2, Err: boom})

	tok := roundtrip.Token{Public: "[]", Private: "x"}
	err := j.Record(ctx, okRun(journal.ActionPut, "h", started), &tok)
	require.ErrorIs(t, err, boom)

	runs, err := j.History(ctx, journal.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs, "run insert must be rolled back with the token")
}

func TestRecord_RunInsertFailureKeepsNothing(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	boom := errors.New("disk full")
	j := journal.NewWithUoW(db, &testutil.JournalWriteFault{DB: db, FailAt: 1, Err: boom})

	require.ErrorIs(t, j.Record(ctx, okRun(journal.ActionCheck, "h", started), nil), boom)

	runs, err := j.History(ctx, journal.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecord_ThroughFaultFreeUnitOfWork(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	j := journal.NewWithUoW(db, &testutil.JournalWriteFault{DB: db})

	tok := roundtrip.Token{Public: "[]", Private: "x"}
	run := okRun(journal.ActionPut, "h", started)
	require.NoError(t, j.Record(ctx, run, &tok))

	_, got, err := j.Token(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestRecord_DuplicateIDFails(t *testing.T) {
	ctx := context.Background()
	j := testutil.NewTestJournal(t)

	first := okRun(journal.ActionCheck, "h", started)
	require.NoError(t, j.Record(ctx, first, nil))

	dup := *first
	require.Error(t, j.Record(ctx, &dup, nil))
}

func TestRecord_RejectsInvalidStatus(t *testing.T) {
	j := testutil.NewTestJournal(t)
	run := journal.NewRun(journal.ActionCheck, "h", started)
	assert.Error(t, j.Record(context.Background(), run, nil), "status 0 violates the CHECK constraint")
}

func TestGet_ByPrefix(t *testing.T) {
	ctx := context.Background()
	j := testutil.NewTestJournal(t)

	a := &journal.Run{ID: "abc123", Action: journal.ActionCheck, Host: "h", Status: verdict.StatusMumble, StartedAt: started}
	b := &journal.Run{ID: "abd456", Action: journal.ActionCheck, Host: "h", Status: verdict.StatusOK, StartedAt: started}
	require.NoError(t, j.Record(ctx, a, nil))
	require.NoError(t, j.Record(ctx, b, nil))

	got, err := j.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.ID)
	assert.Equal(t, verdict.StatusMumble, got.Status)

	_, err = j.Get(ctx, "ab")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = j.Get(ctx, "zzz")
	assert.True(t, journal.IsNotFound(err))
}

func TestToken_CheckRunHasNone(t *testing.T) {
	ctx := context.Background()
	j := testutil.NewTestJournal(t)

	run := okRun(journal.ActionCheck, "h", started)
	require.NoError(t, j.Record(ctx, run, nil))

	_, _, err := j.Token(ctx, run.ID)
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestHistory_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	j := testutil.NewTestJournal(t)

	for i, spec := range []struct {
		action journal.Action
		host   string
	}{
		{journal.ActionCheck, "a"},
		{journal.ActionPut, "a"},
		{journal.ActionCheck, "b"},
		{journal.ActionGet, "a"},
	} {
		require.NoError(t, j.Record(ctx, okRun(spec.action, spec.host, started.Add(time.Duration(i)*time.Minute)), nil))
	}

	all, err := j.History(ctx, journal.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, journal.ActionGet, all[0].Action, "newest first")

	onA, err := j.History(ctx, journal.RunFilter{Host: "a"})
	require.NoError(t, err)
	assert.Len(t, onA, 3)

	checks, err := j.History(ctx, journal.RunFilter{Action: journal.ActionCheck, Limit: 1})
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, "b", checks[0].Host)
}

func TestCascadeDelete_RunToToken(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	j := journal.New(db)

	run := okRun(journal.ActionPut, "h", started)
	tok := roundtrip.Token{Public: "[]", Private: "x"}
	require.NoError(t, j.Record(ctx, run, &tok))

	_, err := db.Exec(`DELETE FROM runs WHERE id = ?`, run.ID)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tokens`).Scan(&n))
	assert.Zero(t, n)
}
