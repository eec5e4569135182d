package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/propops/internal/adapters/driving/tui/views/syncprogress"
	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
)

var syncPlain bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy bookings from the external provider",
	Long: `Runs a full booking sync from the external provider into the data
service. Provider calls are rate limited; rate-limit responses are waited
out and retried per page.

After a failed run a countdown must elapse before the next run starts.
On a terminal a live progress bar is shown; use --plain for line output.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

// isTerminal reports whether w is an interactive terminal.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func init() {
	syncCmd.Flags().BoolVar(&syncPlain, "plain", false, "print progress lines instead of the live view")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}
	if rt.Sync == nil {
		return errors.New("booking sync is not configured (set sync.provider_url)")
	}

	if syncPlain || !isTerminal(cmd.OutOrStdout()) {
		return syncPlainText(cmd.Context(), cmd, rt.Sync)
	}
	return syncInteractive(cmd.Context(), cmd, rt.Sync)
}

// syncInteractive runs the bubbletea progress view.
func syncInteractive(ctx context.Context, cmd *cobra.Command, orch driving.SyncOrchestrator) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan domain.SyncProgressEvent, 64)
	unsubscribe := orch.SubscribeProgress(forward(ctx, events))
	defer unsubscribe()

	model := syncprogress.New(ctx, orch, events)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(cmd.OutOrStdout()))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("progress view: %w", err)
	}

	if err := model.Err(); err != nil {
		return describeRemoteError("sync", err)
	}
	if model.Summary() == nil {
		cmd.Println("Sync cancelled.")
	}
	return nil
}

// syncPlainText starts a run and prints a line per progress change until it
// completes or fails.
func syncPlainText(ctx context.Context, cmd *cobra.Command, orch driving.SyncOrchestrator) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan domain.SyncProgressEvent, 64)
	unsubscribe := orch.SubscribeProgress(forward(ctx, events))
	defer unsubscribe()

	runID, err := orch.Start(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSyncCoolingDown) {
			return fmt.Errorf("sync is cooling down after a failure: retry in %s", orch.Status().RetryIn.Round(time.Second))
		}
		return fmt.Errorf("sync failed to start: %w", err)
	}
	cmd.Printf("Sync %s started.\n", runID)

	last := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.RunID != runID {
				continue
			}
			if ev.Err != nil {
				return describeRemoteError("sync", ev.Err)
			}
			if ev.Summary != nil {
				cmd.Printf("Synced %d bookings in %d page(s) (%s).\n",
					ev.Summary.Synced, ev.Summary.Pages, ev.Summary.Duration.Round(time.Millisecond))
				return nil
			}
			if p := ev.Progress; p.TotalUnits > 0 && p.CompletedUnits != last {
				last = p.CompletedUnits
				cmd.Printf("  %d/%d bookings (%.0f%%)", p.CompletedUnits, p.TotalUnits, p.Fraction()*100)
				if ev.EstimatedTimeLeft > 0 {
					cmd.Printf(", ~%s left", ev.EstimatedTimeLeft.Round(time.Second))
				}
				cmd.Println()
			}
		}
	}
}

// forward adapts a progress callback to a channel. Events are dropped once
// ctx is done so a slow reader never blocks the orchestrator after exit.
func forward(ctx context.Context, ch chan<- domain.SyncProgressEvent) func(domain.SyncProgressEvent) {
	return func(ev domain.SyncProgressEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
}
