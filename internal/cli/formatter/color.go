package formatter

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

// Gruvbox tones, one per verdict plus chrome.
var (
	okColor      = lipgloss.Color("#8ec07c")
	mumbleColor  = lipgloss.Color("#fabd2f")
	corruptColor = lipgloss.Color("#d3869b")
	downColor    = lipgloss.Color("#fb4934")
	dimColor     = lipgloss.Color("#928374")
	headerColor  = lipgloss.Color("#fe8019")
)

var (
	StyleGreen  = lipgloss.NewStyle().Foreground(okColor)
	StyleYellow = lipgloss.NewStyle().Foreground(mumbleColor)
	StylePurple = lipgloss.NewStyle().Foreground(corruptColor)
	StyleRed    = lipgloss.NewStyle().Foreground(downColor)
	StyleDim    = lipgloss.NewStyle().Foreground(dimColor)
	StyleHeader = lipgloss.NewStyle().Foreground(headerColor).Bold(true)
)

// StatusStyle returns the style for a checker status.
func StatusStyle(s verdict.Status) lipgloss.Style {
	switch s {
	case verdict.StatusOK:
		return StyleGreen
	case verdict.StatusMumble:
		return StyleYellow
	case verdict.StatusCorrupt:
		return StylePurple
	case verdict.StatusDown:
		return StyleRed
	}
	return StyleDim
}

// StatusBadge renders a status such as "● MUMBLE".
func StatusBadge(s verdict.Status) string {
	return StatusStyle(s).Render("● " + s.String())
}

func Header(text string) string { return StyleHeader.Render(text) }

func Dim(text string) string { return StyleDim.Render(text) }
