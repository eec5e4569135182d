// Package syncprogress provides the live view of a provider sync run.
package syncprogress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/propops/internal/adapters/driving/tui/components/status"
	"github.com/custodia-labs/propops/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/propops/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/propops/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
)

const (
	minBarWidth = 10
	maxBarWidth = 60
)

// Model starts a sync run and renders its progress until it completes or
// the user quits.
type Model struct {
	ctx    context.Context
	orch   driving.SyncOrchestrator
	events <-chan domain.SyncProgressEvent

	styles *styles.Styles
	keymap *keymap.KeyMap
	bar    progress.Model
	status *status.Bar

	runID   string
	state   domain.SyncState
	prog    domain.SyncJobProgress
	eta     time.Duration
	retryIn time.Duration
	summary *domain.SyncSummary
	err     error

	// quitting hides the key help on the final frame.
	quitting bool
}

// New creates the view. events must be fed from orch.SubscribeProgress.
func New(ctx context.Context, orch driving.SyncOrchestrator, events <-chan domain.SyncProgressEvent) *Model {
	s := styles.DefaultStyles()
	km := keymap.DefaultKeyMap()
	theme := s.Theme()
	return &Model{
		ctx:    ctx,
		orch:   orch,
		events: events,
		styles: s,
		keymap: km,
		bar: progress.New(
			progress.WithGradient(string(theme.Accent), string(theme.AccentEnd)),
			progress.WithWidth(40),
		),
		status: status.NewBar(s, km),
		state:  domain.SyncIdle,
	}
}

// Init starts the run and begins listening for progress.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.start(), m.listen())
}

// Update handles key presses and orchestrator messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Retry):
			if m.CanRetry() {
				m.err = nil
				return m, m.start()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-4, maxBarWidth), minBarWidth)
		m.status.SetWidth(m.bar.Width)
		return m, nil

	case messages.SyncStarted:
		m.runID = msg.RunID
		m.state = domain.SyncRunning
		return m, nil

	case messages.SyncStartFailed:
		m.err = msg.Err
		if errors.Is(msg.Err, domain.ErrSyncCoolingDown) {
			st := m.orch.Status()
			m.state, m.retryIn = st.State, st.RetryIn
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case messages.SyncProgress:
		return m, m.apply(msg.Event)
	}

	return m, nil
}

func (m *Model) apply(ev domain.SyncProgressEvent) tea.Cmd {
	if ev.RunID != "" {
		m.runID = ev.RunID
	}
	m.state = ev.State
	m.prog = ev.Progress
	m.eta = ev.EstimatedTimeLeft
	m.retryIn = ev.RetryIn
	if ev.Err != nil {
		m.err = ev.Err
	}
	if ev.Summary != nil {
		m.summary = ev.Summary
		m.err = nil
		m.quitting = true
		return tea.Quit
	}
	return m.listen()
}

// CanRetry reports whether a failed run may be restarted now.
func (m *Model) CanRetry() bool {
	return m.err != nil && m.state == domain.SyncIdle
}

// Summary returns the summary of a completed run.
func (m *Model) Summary() *domain.SyncSummary {
	return m.summary
}

// Err returns the error of the last failed run, if it was not retried.
func (m *Model) Err() error {
	return m.err
}

func (m *Model) start() tea.Cmd {
	return func() tea.Msg {
		id, err := m.orch.Start(m.ctx)
		if err != nil {
			return messages.SyncStartFailed{Err: err}
		}
		return messages.SyncStarted{RunID: id}
	}
}

func (m *Model) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.events:
			return messages.SyncProgress{Event: ev}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// View renders the panel.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Booking sync"))
	if m.runID != "" {
		b.WriteString(" " + m.styles.Muted.Render(shortID(m.runID)))
	}
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.prog.Fraction()))
	b.WriteString("\n\n")

	b.WriteString(m.row("bookings", fmt.Sprintf("%d / %s", m.prog.CompletedUnits, total(m.prog.TotalUnits))))
	if m.prog.UnitsPerSecond > 0 {
		b.WriteString(m.row("rate", fmt.Sprintf("%.1f/s", m.prog.UnitsPerSecond)))
	}
	if m.state == domain.SyncRunning && m.eta > 0 {
		b.WriteString(m.row("eta", m.eta.Round(time.Second).String()))
	}

	switch {
	case m.summary != nil:
		b.WriteString("\n" + m.styles.Success.Render(fmt.Sprintf(
			"Synced %d bookings in %s", m.summary.Synced, m.summary.Duration.Round(time.Millisecond))))
	case m.err != nil:
		b.WriteString("\n" + m.styles.Error.Render("Sync failed: "+m.err.Error()))
		if m.state == domain.SyncCountingDown && m.retryIn > 0 {
			b.WriteString("\n" + m.styles.Warning.Render(
				fmt.Sprintf("Retry available in %s", m.retryIn.Round(time.Second))))
		}
	}

	if !m.quitting {
		m.status.SetState(m.state, m.retryIn)
		m.status.SetRetryable(m.CanRetry())
		b.WriteString("\n" + m.styles.Help.Render(m.status.View()))
	}
	return m.styles.Panel.Render(b.String()) + "\n"
}

func (m *Model) row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, m.styles.Label.Render(label), m.styles.Value.Render(value)) + "\n"
}

func total(n int) string {
	if n <= 0 {
		return "?"
	}
	return fmt.Sprintf("%d", n)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
