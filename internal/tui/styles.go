package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/petemoulton/trilogy/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("63")) // Blue

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")) // Gray

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // Red

	forcedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
)

// statusStyle returns the foreground style used for a task status.
func statusStyle(status models.TaskStatus) lipgloss.Style {
	var color string
	switch status {
	case models.TaskStatusPending:
		color = "39" // Cyan
	case models.TaskStatusRunning:
		color = "214" // Orange
	case models.TaskStatusBlocked:
		color = "245"
	case models.TaskStatusCompleted:
		color = "34" // Green
	case models.TaskStatusFailed:
		color = "196"
	case models.TaskStatusCancelled:
		color = "28" // Dark green
	default:
		color = "252"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

// statusIcon returns a one-character marker for a task status.
func statusIcon(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusPending:
		return "○"
	case models.TaskStatusRunning:
		return "●"
	case models.TaskStatusBlocked:
		return "◌"
	case models.TaskStatusCompleted:
		return "✓"
	case models.TaskStatusFailed:
		return "✗"
	case models.TaskStatusCancelled:
		return "⊘"
	default:
		return "?"
	}
}

// truncate shortens s to maxLen runes, ending with an ellipsis.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
