package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the monitor.
type KeyMap struct {
	Connect    key.Binding
	Disconnect key.Binding
	Clear      key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Connect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "connect"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "disconnect"),
		),
		Clear: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "clear log"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
