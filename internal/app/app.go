// Package app is the Bubble Tea monitor behind `chatstream tail`. It shows
// the connection state, a rolling event log and the latest message.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/chatstream/chatstream/internal/connection"
	"github.com/chatstream/chatstream/internal/protocol"
	"github.com/chatstream/chatstream/internal/theme"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxLogLines     = 200
	refreshInterval = 500 * time.Millisecond
)

// Connector is the part of connection.Client the monitor drives.
type Connector interface {
	Connect()
	Disconnect()
	Status() connection.Status
	Attempt() int64
	Failures() int
	ConnectionID() string
}

type refreshMsg time.Time

type logLine struct {
	at    time.Time
	kind  string
	text  string
	color lipgloss.Color
}

// Model is the root Bubble Tea model.
type Model struct {
	conn   Connector
	bridge *Bridge
	keys   KeyMap
	width  int
	height int

	statusBar statusBar
	online    bool
	offline   bool
	expired   bool
	lastErr   *protocol.APIError

	log      []logLine
	events   int
	latest   *protocol.Event
	rendered string
}

// New creates the root model. The bridge must be the handler installed on
// conn.
func New(conn Connector, bridge *Bridge) Model {
	return Model{
		conn:   conn,
		bridge: bridge,
		keys:   DefaultKeyMap(),
	}
}

// Init connects and starts listening for bridged callbacks.
func (m Model) Init() tea.Cmd {
	m.conn.Connect()
	return tea.Batch(m.bridge.Next(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		if m.latest != nil {
			m.rendered = m.render(m.latest)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case refreshMsg:
		m.refresh()
		return m, tick()

	case OnlineMsg:
		m.online = true
		m.offline = false
		m.expired = false
		m.appendLog("online", "connection is healthy", theme.ColorHealthy)
		m.refresh()
		return m, m.bridge.Next()

	case OfflineMsg:
		m.online = false
		m.offline = true
		m.appendLog("offline", "connection lost", theme.ColorDanger)
		m.refresh()
		return m, m.bridge.Next()

	case ResolvedMsg:
		id := ""
		if msg.Event != nil {
			id = msg.Event.ConnectionID
		}
		m.appendLog("resolved", id, theme.ColorHealthy)
		m.refresh()
		return m, m.bridge.Next()

	case RecoveredMsg:
		m.appendLog("recovered", fmt.Sprintf("attempt %d", m.conn.Attempt()), theme.ColorHealthy)
		return m, m.bridge.Next()

	case TokenExpiredMsg:
		m.expired = true
		m.appendLog("token", "token expired, reconnect with fresh credentials", theme.ColorWarning)
		m.refresh()
		return m, m.bridge.Next()

	case ErrorMsg:
		m.lastErr = msg.Err
		text := ""
		if msg.Err != nil {
			text = msg.Err.Error()
		}
		m.appendLog("error", text, theme.ColorError)
		return m, m.bridge.Next()

	case EventMsg:
		m.handleEvent(msg.Event)
		return m, m.bridge.Next()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.conn.Disconnect()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Connect):
		m.expired = false
		m.conn.Connect()
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Disconnect):
		m.conn.Disconnect()
		m.online = false
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.log = nil
		return m, nil
	}

	return m, nil
}

func (m *Model) handleEvent(ev *protocol.Event) {
	if ev == nil {
		return
	}
	m.events++
	m.statusBar.Events = m.events

	text := ev.ConnectionID
	if ev.Message != nil {
		from := ""
		if ev.Message.User != nil {
			from = ev.Message.User.ID + ": "
		}
		text = from + ev.Message.Text
		m.latest = ev
		m.rendered = m.render(ev)
	}
	m.appendLog(string(ev.Type), text, theme.EventColor(string(ev.Type)))
}

func (m *Model) refresh() {
	m.statusBar.Status = m.conn.Status().String()
	m.statusBar.Attempt = m.conn.Attempt()
	m.statusBar.Failures = m.conn.Failures()
	m.statusBar.ConnectionID = m.conn.ConnectionID()
	m.statusBar.Online = m.conn.Status() == connection.StatusHealthy
}

func (m *Model) appendLog(kind, text string, color lipgloss.Color) {
	m.log = append(m.log, logLine{at: time.Now(), kind: kind, text: text, color: color})
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// render formats message text as markdown, falling back to plain text.
func (m Model) render(ev *protocol.Event) string {
	width := m.width - 4
	if width < 20 {
		width = 76
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return ev.Text()
	}
	out, err := r.Render(ev.Text())
	if err != nil {
		return ev.Text()
	}
	return strings.TrimRight(out, "\n")
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View()}
	if m.offline {
		sections = append(sections, m.renderBanner("OFFLINE: waiting to reconnect", theme.ColorDanger))
	}
	if m.expired {
		sections = append(sections, m.renderBanner("TOKEN EXPIRED: press c to reconnect", theme.ColorWarning))
	}
	sections = append(sections, m.renderLatest())
	if m.lastErr != nil {
		sections = append(sections, theme.StyleError.Render("  last error: "+m.lastErr.Error()))
	}
	sections = append(sections, m.renderLog(), m.renderHelp())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderBanner(text string, color lipgloss.Color) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorBright).
		Background(color).
		Width(m.width).
		Align(lipgloss.Center).
		Render(text)
}

func (m Model) renderLatest() string {
	header := theme.StyleHeader.Render("Latest message")
	body := theme.StyleDimmed.Render("  no messages yet")
	if m.rendered != "" {
		body = m.rendered
	}
	return theme.StyleBorder.Width(max(m.width-2, 20)).Render(header + "\n" + body)
}

// renderLog shows the newest lines that fit under the other sections.
func (m Model) renderLog() string {
	visible := m.height - 14
	if visible < 3 {
		visible = 3
	}
	lines := m.log
	if len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}

	out := []string{theme.StyleHeader.Render("Events")}
	if len(lines) == 0 {
		out = append(out, theme.StyleDimmed.Render("  waiting for events"))
	}
	for _, l := range lines {
		kind := lipgloss.NewStyle().Foreground(l.color).Width(24).Render(l.kind)
		out = append(out, "  "+theme.StyleDimmed.Render(l.at.Format("15:04:05"))+" "+kind+" "+l.text)
	}
	return strings.Join(out, "\n")
}

func (m Model) renderHelp() string {
	bindings := []key.Binding{m.keys.Connect, m.keys.Disconnect, m.keys.Clear, m.keys.Quit}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+":"+h.Desc)
	}
	return theme.StyleDimmed.Render("  " + strings.Join(parts, "  "))
}
