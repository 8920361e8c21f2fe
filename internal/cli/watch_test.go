package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/poller"
	"github.com/alexanderramin/notifyprobe/internal/teatest"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

func watchPlan() []domain.PlanEntry {
	sent := epoch.Add(3100 * time.Millisecond)
	return []domain.PlanEntry{
		{PlannedAt: epoch.Add(3 * time.Second), SentAt: &sent},
		{PlannedAt: epoch.Add(5 * time.Second)},
	}
}

func newWatchDriver(t *testing.T) (*teatest.Driver, *int) {
	t.Helper()
	cancels := 0
	d := teatest.New(t, newWatchModel("notify.local", func() { cancels++ }), teatest.WithSize(80, 24))
	d.DrainInit()
	return d, &cancels
}

func TestWatch_StartsWithSpinner(t *testing.T) {
	d, _ := newWatchDriver(t)

	assert.Equal(t, 1, d.Ticks)
	assert.Contains(t, d.View(), "notifyprobe check notify.local")
	assert.Contains(t, d.View(), "setting up accounts")
	assert.Contains(t, d.View(), "q to stop")
}

func TestWatch_RendersPollProgress(t *testing.T) {
	d, _ := newWatchDriver(t)

	d.Send(pollMsg(poller.Event{Tick: 3, Vantage: domain.VantageOwner, State: poller.Waiting, Plan: watchPlan()}))

	view := d.View()
	assert.Contains(t, view, "tick 3 · owner · waiting")
	assert.Contains(t, view, "#1  12:00:03.000  sent 12:00:03.100 (+100ms)")
	assert.Contains(t, view, "#2  12:00:05.000  pending")
	assert.Contains(t, view, "] 1/2")
	assert.NotContains(t, view, "setting up accounts")

	require.NotEmpty(t, d.Frames)
	assert.Contains(t, d.Frames[0], "setting up accounts", "the first frame precedes any poll")
}

func TestWatch_QuitCancelsOnce(t *testing.T) {
	d, cancels := newWatchDriver(t)
	d.Send(pollMsg(poller.Event{Tick: 1, Vantage: domain.VantageOwner, Plan: watchPlan()}))

	d.Key("q")
	d.Key("ctrl+c")

	assert.Equal(t, 1, *cancels)
	assert.False(t, d.Quitting, "the view waits for the check to unwind")
	assert.Contains(t, d.View(), "stopping")
}

func TestWatch_DoneShowsVerdict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want []string
	}{
		{"ok", nil, []string{"● OK"}},
		{"lost", verdict.Lost("flag not found in notification content", "detail"), []string{"● CORRUPT", "flag not found in notification content"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, cancels := newWatchDriver(t)
			d.Send(pollMsg(poller.Event{Tick: 9, Final: true, State: poller.Settled, Plan: watchPlan()}))
			d.Send(checkDoneMsg{err: tc.err})

			require.True(t, d.Quitting)
			view := d.View()
			for _, w := range tc.want {
				assert.Contains(t, view, w)
			}
			assert.NotContains(t, view, "q to stop")
			assert.Zero(t, *cancels)
		})
	}
}
