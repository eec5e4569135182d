package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/propops/internal/core/domain"
)

var tasksHistory int

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show the background schedule and recent runs",
	Long: `List the queue flush and provider sync tasks run by 'propops watch',
with their next run, failure streak and most recent results.`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

func init() {
	tasksCmd.Flags().IntVar(&tasksHistory, "history", 3, "number of recent runs to show per task (0 to hide)")
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}
	if rt.Scheduler == nil {
		return errors.New("scheduler is not available")
	}
	if tasksHistory < 0 {
		return fmt.Errorf("%w: --history must not be negative", domain.ErrInvalidInput)
	}

	tasks, err := rt.Scheduler.Tasks(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		cmd.Println("No scheduled tasks yet. They are created the first time 'propops watch' runs.")
		return nil
	}

	for i, task := range tasks {
		if i > 0 {
			cmd.Println()
		}
		state := "enabled"
		if !task.Enabled {
			state = "disabled"
		}
		cmd.Printf("%s (%s, every %s, %s)\n", task.Name, task.ID, task.Interval, state)
		if task.Enabled {
			cmd.Printf("  next run: %s\n", formatTime(task.NextRun))
		}
		cmd.Printf("  last success: %s\n", formatTime(task.LastSuccess))
		if task.Failures > 0 {
			cmd.Printf("  failing: %d in a row, last error: %s\n", task.Failures, task.LastError)
		}

		if tasksHistory == 0 {
			continue
		}
		history, err := rt.Scheduler.History(cmd.Context(), task.ID, tasksHistory)
		if err != nil {
			return fmt.Errorf("failed to load history for %s: %w", task.ID, err)
		}
		for _, r := range history {
			cmd.Printf("  %s  %s\n", r.StartedAt.Format(time.RFC3339), describeResult(r))
		}
	}
	return nil
}

func describeResult(r domain.TaskResult) string {
	var out string
	if r.Success {
		out = fmt.Sprintf("ok in %s", r.Duration())
	} else {
		out = fmt.Sprintf("failed (%s): %s", r.ErrorKind, r.Error)
	}
	if r.Detail != "" {
		out += " [" + r.Detail + "]"
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
