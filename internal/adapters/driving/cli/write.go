package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/propops/internal/core/domain"
)

var (
	writePayload     string
	writePayloadFile string
)

var writeCmd = &cobra.Command{
	Use:   "write <entity-type> <entity-id> <create|update|delete>",
	Short: "Apply a write, queueing it if the service is unreachable",
	Long: `Send a write to the remote service. When offline, or when the attempt
fails with a retryable error, the write is queued and delivered on the
next flush. Validation and auth failures are reported and nothing is
queued.`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().StringVar(&writePayload, "payload", "", "JSON request body")
	writeCmd.Flags().StringVar(&writePayloadFile, "payload-file", "", "read the JSON request body from a file")
	rootCmd.AddCommand(writeCmd)
}

func runWrite(cmd *cobra.Command, args []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}
	if rt.Writer == nil {
		return errors.New("writes are not available in this runtime")
	}

	op, err := domain.ParseOperation(strings.ToLower(args[2]))
	if err != nil {
		return err
	}
	payload, err := readPayload(writePayload, writePayloadFile)
	if err != nil {
		return err
	}

	receipt, err := rt.Writer.Mutate(cmd.Context(), domain.QueuedMutation{
		EntityType: args[0],
		EntityID:   args[1],
		Operation:  op,
		Payload:    payload,
	})
	if err != nil {
		return describeRemoteError("write", err)
	}

	m := receipt.Mutation
	if receipt.Queued {
		cmd.Printf("Queued %s %s as %s; it will be delivered on the next flush.\n", m.Operation, m.EntityKey(), m.ID)
		return nil
	}
	cmd.Printf("Applied %s %s.\n", m.Operation, m.EntityKey())
	return nil
}
