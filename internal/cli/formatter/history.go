package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/journal"
)

// FormatHistory renders journaled runs newest first.
func FormatHistory(runs []*journal.Run, now time.Time) string {
	if len(runs) == 0 {
		return Dim("No runs recorded yet.") + "\n"
	}

	rows := make([][]string, 0, len(runs))
	counts := map[string]int{}
	for _, r := range runs {
		counts[r.Status.String()]++
		rows = append(rows, []string{
			TruncID(r.ID),
			string(r.Action),
			r.Host,
			StatusBadge(r.Status),
			Millis(r.Duration),
			Ago(r.StartedAt, now),
			Truncate(strings.ReplaceAll(r.Public, "\n", " "), 48),
		})
	}

	var b strings.Builder
	b.WriteString(Table{
		Headers: []string{"ID", "ACTION", "HOST", "STATUS", "TOOK", "STARTED", "PUBLIC"},
		Rows:    rows,
		Right:   []int{4},
	}.Render())

	var summary []string
	for _, name := range []string{"OK", "MUMBLE", "CORRUPT", "DOWN"} {
		if n := counts[name]; n > 0 {
			summary = append(summary, fmt.Sprintf("%d %s", n, name))
		}
	}
	b.WriteString("\n" + Dim(fmt.Sprintf("%d runs: %s", len(runs), strings.Join(summary, ", "))) + "\n")
	return b.String()
}
