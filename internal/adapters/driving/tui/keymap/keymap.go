// Package keymap defines keybindings for the terminal views.
package keymap

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the keybindings of the sync view.
type KeyMap struct {
	// Quit leaves the view. A running sync is cancelled.
	Quit key.Binding

	// Retry starts a new run once the failure countdown has elapsed.
	Retry key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
	}
}

// ShortHelp returns the bindings shown under the view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Retry, k.Quit}
}
