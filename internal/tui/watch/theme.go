// Package watch implements the live receiver watch TUI.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/venhook/internal/events"
)

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	Accepted  lipgloss.Style
	Duplicate lipgloss.Style
	Rejected  lipgloss.Style
	Failed    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Accepted:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Duplicate: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Rejected:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

// ForType returns the style for a hub event type.
func (t Theme) ForType(eventType string) lipgloss.Style {
	switch eventType {
	case events.TypeReceived:
		return t.Accepted
	case events.TypeDuplicate:
		return t.Duplicate
	case events.TypeRejected:
		return t.Rejected
	case events.TypeFailed:
		return t.Failed
	default:
		return t.Dim
	}
}
