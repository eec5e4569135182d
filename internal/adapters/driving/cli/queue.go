package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/propops/internal/core/domain"
)

var (
	enqueuePayload     string
	enqueuePayloadFile string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and deliver queued writes",
	Long: `Writes made while offline are kept in a durable queue and delivered in
order per entity. Mutations that exhaust their retries move to the
dead-letter list and wait for a manual retry or discard.`,
	RunE: runQueueList,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mutations",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List dead-lettered mutations",
	Args:  cobra.NoArgs,
	RunE:  runQueueDead,
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver queued mutations now",
	Args:  cobra.NoArgs,
	RunE:  runQueueFlush,
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue <entity-type> <entity-id> <create|update|delete>",
	Short: "Queue a mutation for delivery",
	Long: `Queue a write without attempting it. The payload is validated against
the entity's JSON schema when a schema directory is configured.`,
	Args: cobra.ExactArgs(3),
	RunE: runQueueEnqueue,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <mutation-id>",
	Short: "Move a dead-lettered mutation back to the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRetry,
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <mutation-id>",
	Short: "Drop a dead-lettered mutation",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueDiscard,
}

func init() {
	queueEnqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "JSON request body")
	queueEnqueueCmd.Flags().StringVar(&enqueuePayloadFile, "payload-file", "", "read the JSON request body from a file")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDeadCmd)
	queueCmd.AddCommand(queueFlushCmd)
	queueCmd.AddCommand(queueEnqueueCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueDiscardCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	pending, err := rt.Queue.Pending(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}
	if len(pending) == 0 {
		cmd.Println("Queue is empty.")
		return nil
	}

	cmd.Printf("%d queued mutation(s):\n\n", len(pending))
	for _, m := range pending {
		cmd.Printf("  %s  %-6s %s\n", m.ID, m.Operation, m.EntityKey())
		cmd.Printf("      queued %s", m.CreatedAt.Format(time.RFC3339))
		if m.RetryCount > 0 {
			cmd.Printf(", %d failed attempt(s)", m.RetryCount)
		}
		if !m.NextAttemptAt.IsZero() {
			cmd.Printf(", next attempt %s", m.NextAttemptAt.Format(time.RFC3339))
		}
		cmd.Println()
		if m.LastError != "" {
			cmd.Printf("      last error: %s\n", m.LastError)
		}
	}
	return nil
}

func runQueueDead(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	dead, err := rt.Queue.DeadLetters(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list dead letters: %w", err)
	}
	if len(dead) == 0 {
		cmd.Println("No dead-lettered mutations.")
		return nil
	}

	cmd.Printf("%d dead-lettered mutation(s):\n\n", len(dead))
	for _, d := range dead {
		cmd.Printf("  %s  %-6s %s\n", d.Mutation.ID, d.Mutation.Operation, d.Mutation.EntityKey())
		cmd.Printf("      %s at %s: %s\n", d.Kind, d.FailedAt.Format(time.RFC3339), d.Reason)
	}
	cmd.Println("\nUse 'propops queue retry <id>' or 'propops queue discard <id>'.")
	return nil
}

func runQueueFlush(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	res, err := rt.Queue.Flush(cmd.Context())
	if err != nil {
		return describeRemoteError("flush", err)
	}

	cmd.Printf("Applied %d, retrying %d, dead-lettered %d, deferred %d. %d remaining.\n",
		res.Applied, res.Retrying, res.DeadLettered, res.Deferred, res.Remaining)
	return nil
}

func runQueueEnqueue(cmd *cobra.Command, args []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	op, err := domain.ParseOperation(strings.ToLower(args[2]))
	if err != nil {
		return err
	}
	payload, err := readPayload(enqueuePayload, enqueuePayloadFile)
	if err != nil {
		return err
	}

	m, err := rt.Queue.Enqueue(cmd.Context(), domain.QueuedMutation{
		EntityType: args[0],
		EntityID:   args[1],
		Operation:  op,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}

	cmd.Printf("Queued %s %s as %s.\n", m.Operation, m.EntityKey(), m.ID)
	return nil
}

// readPayload returns the request body from an inline value or a file.
func readPayload(inline, path string) ([]byte, error) {
	switch {
	case inline != "" && path != "":
		return nil, fmt.Errorf("%w: use --payload or --payload-file, not both", domain.ErrInvalidInput)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		return data, nil
	case inline != "":
		return []byte(inline), nil
	default:
		return nil, nil
	}
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	if err := rt.Queue.RetryDeadLetter(cmd.Context(), args[0]); err != nil {
		return deadLetterError(args[0], err)
	}
	cmd.Printf("Mutation %s moved back to the queue.\n", args[0])
	return nil
}

func runQueueDiscard(cmd *cobra.Command, args []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	if err := rt.Queue.DiscardDeadLetter(cmd.Context(), args[0]); err != nil {
		return deadLetterError(args[0], err)
	}
	cmd.Printf("Mutation %s discarded.\n", args[0])
	return nil
}

func deadLetterError(id string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("no dead-lettered mutation %s", id)
	}
	return err
}
