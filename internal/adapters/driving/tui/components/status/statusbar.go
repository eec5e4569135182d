// Package status provides the status line shown under terminal views.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/propops/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/propops/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/propops/internal/core/domain"
)

// Bar displays the sync state and keybinding hints.
type Bar struct {
	styles *styles.Styles
	keymap *keymap.KeyMap

	state     domain.SyncState
	retryIn   time.Duration
	retryable bool
	width     int
}

// NewBar creates a status bar. Nil arguments use the defaults.
func NewBar(s *styles.Styles, km *keymap.KeyMap) *Bar {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if km == nil {
		km = keymap.DefaultKeyMap()
	}
	return &Bar{
		styles: s,
		keymap: km,
		state:  domain.SyncIdle,
	}
}

// View renders the bar. With a width set, hints are right-aligned.
func (s *Bar) View() string {
	left := s.renderLeft()
	right := s.renderRight()

	padding := s.width - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 2 {
		padding = 2
	}
	return left + strings.Repeat(" ", padding) + right
}

func (s *Bar) renderLeft() string {
	switch s.state {
	case domain.SyncRunning:
		return s.styles.Value.Render("Syncing…")
	case domain.SyncCountingDown:
		if s.retryIn > 0 {
			return s.styles.Warning.Render(fmt.Sprintf("Cooling down (%s)", s.retryIn.Round(time.Second)))
		}
		return s.styles.Warning.Render("Cooling down")
	default:
		return s.styles.Muted.Render("Idle")
	}
}

// renderRight lists the bindings usable in the current state.
func (s *Bar) renderRight() string {
	bindings := []key.Binding{s.keymap.Quit}
	if s.retryable {
		bindings = s.keymap.ShortHelp()
	}

	hints := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		hints = append(hints, h.Key+" "+h.Desc)
	}
	return s.styles.Muted.Render(strings.Join(hints, " • "))
}

// SetState records the orchestrator state and countdown.
func (s *Bar) SetState(state domain.SyncState, retryIn time.Duration) {
	s.state = state
	s.retryIn = retryIn
}

// State returns the displayed state.
func (s *Bar) State() domain.SyncState {
	return s.state
}

// SetRetryable shows or hides the retry hint.
func (s *Bar) SetRetryable(ok bool) {
	s.retryable = ok
}

// SetWidth sets the width used to right-align the hints.
func (s *Bar) SetWidth(width int) {
	s.width = width
}

// Width returns the current width.
func (s *Bar) Width() int {
	return s.width
}
