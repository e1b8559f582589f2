// Package theme provides the Lip Gloss color palette and reusable styles
// for the chatstream monitor. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Connection status colors.
var (
	ColorIdle         = lipgloss.Color("#4b5563")
	ColorConnecting   = lipgloss.Color("#7c3aed")
	ColorHealthy      = lipgloss.Color("#22c55e")
	ColorUnhealthy    = lipgloss.Color("#d97706")
	ColorShuttingDown = lipgloss.Color("#374151")
	ColorDefault      = lipgloss.Color("#9ca3af")
)

// Event colors.
var (
	ColorMessage  = lipgloss.Color("#3b82f6")
	ColorTyping   = lipgloss.Color("#06b6d4")
	ColorPresence = lipgloss.Color("#a855f7")
	ColorHealth   = lipgloss.Color("#6b7280")
	ColorError    = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StatusColor returns the color for a connection status name.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "idle":
		return ColorIdle
	case "connecting":
		return ColorConnecting
	case "healthy":
		return ColorHealthy
	case "unhealthy":
		return ColorUnhealthy
	case "shutting_down":
		return ColorShuttingDown
	default:
		return ColorDefault
	}
}

// StatusGlyph returns a Unicode glyph for a connection status name.
func StatusGlyph(status string) string {
	switch status {
	case "healthy":
		return "●"
	case "connecting":
		return "◎"
	case "unhealthy":
		return "◌"
	case "shutting_down":
		return "✗"
	default:
		return "○"
	}
}

// EventColor returns the color for a stream event type.
func EventColor(eventType string) lipgloss.Color {
	switch {
	case hasPrefix(eventType, "message."), hasPrefix(eventType, "notification."):
		return ColorMessage
	case hasPrefix(eventType, "typing."):
		return ColorTyping
	case hasPrefix(eventType, "user."):
		return ColorPresence
	case eventType == "health.check":
		return ColorHealth
	default:
		return ColorDefault
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorError)
)

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
