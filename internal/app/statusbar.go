package app

import (
	"fmt"

	"github.com/chatstream/chatstream/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// statusBar holds what the top bar shows.
type statusBar struct {
	Status       string
	Online       bool
	Attempt      int64
	Failures     int
	ConnectionID string
	Events       int
	Width        int
}

func (m statusBar) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	status := m.Status
	if status == "" {
		status = "idle"
	}
	statusStr := lipgloss.NewStyle().Foreground(theme.StatusColor(status)).
		Render(theme.StatusGlyph(status) + " " + status)

	var liveStr string
	if m.Online {
		liveStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("online")
	} else {
		liveStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("offline")
	}

	counts := fmt.Sprintf("attempt %d  failures %d  events %d", m.Attempt, m.Failures, m.Events)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := statusStr + sep + liveStr + sep + counts
	if m.ConnectionID != "" {
		content += sep + theme.StyleDimmed.Render(m.ConnectionID)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
