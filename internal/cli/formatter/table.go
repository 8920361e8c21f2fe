package formatter

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const colGap = 2

// Table is a plain aligned table with a header separator line. Widths are
// measured on visible text, so styled cells line up.
type Table struct {
	Headers []string
	Rows    [][]string
	// Right lists column indexes that are right-aligned.
	Right []int
}

// Render returns the table, or "" when it has no columns.
func (t Table) Render() string {
	cols := len(t.Headers)
	if cols == 0 {
		return ""
	}

	widths := make([]int, cols)
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < cols && i < len(row); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	right := make(map[int]bool, len(t.Right))
	for _, i := range t.Right {
		right[i] = true
	}

	var b strings.Builder
	styled := make([]string, cols)
	for i, h := range t.Headers {
		styled[i] = StyleHeader.Render(h)
	}
	t.writeRow(&b, styled, t.Headers, widths, right)

	for i, w := range widths {
		b.WriteString(StyleDim.Render(strings.Repeat("─", w)))
		if i < cols-1 {
			b.WriteString(strings.Repeat(" ", colGap))
		}
	}
	b.WriteString("\n")

	for _, row := range t.Rows {
		cells := make([]string, cols)
		copy(cells, row)
		t.writeRow(&b, cells, cells, widths, right)
	}
	return b.String()
}

// writeRow pads rendered cells using the visible width of plain.
func (t Table) writeRow(b *strings.Builder, rendered, plain []string, widths []int, right map[int]bool) {
	last := len(widths) - 1
	for i := range widths {
		pad := max(widths[i]-lipgloss.Width(plain[i]), 0)
		if right[i] {
			b.WriteString(strings.Repeat(" ", pad))
			b.WriteString(rendered[i])
		} else {
			b.WriteString(rendered[i])
			if i < last {
				b.WriteString(strings.Repeat(" ", pad))
			}
		}
		if i < last {
			b.WriteString(strings.Repeat(" ", colGap))
		}
	}
	b.WriteString("\n")
}
