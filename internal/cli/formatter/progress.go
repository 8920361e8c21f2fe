package formatter

import (
	"fmt"
	"strings"
)

const (
	filledBlock = "█"
	emptyBlock  = "░"
)

// RenderProgress renders how many of total firings were sent, e.g.
// "[████░░░░] 2/4". Complete bars are green, partial ones yellow.
func RenderProgress(done, total, width int) string {
	if width < 2 {
		width = 2
	}
	done = min(max(done, 0), total)

	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	bar := strings.Repeat(filledBlock, filled) + strings.Repeat(emptyBlock, width-filled)

	style := StyleYellow
	if total > 0 && done == total {
		style = StyleGreen
	}
	return fmt.Sprintf("[%s] %d/%d", style.Render(bar), done, total)
}
