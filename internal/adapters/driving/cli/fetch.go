package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/propops/internal/core/domain"
)

var fetchTTL time.Duration

var fetchCmd = &cobra.Command{
	Use:   "fetch <resource>",
	Short: "Read a resource through the cache",
	Long: `Fetch a resource (e.g. profiles/me) from the remote service.

A fresh cached copy is returned without a request. Failed lookups are
remembered briefly and retried in the background with backoff.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().DurationVar(&fetchTTL, "ttl", 0, "freshness window (default from config)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	resource := args[0]
	raw, err := rt.Cache.Get(cmd.Context(), resource, fetchTTL)
	if err != nil {
		return describeRemoteError("fetch "+resource, err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		cmd.Println(string(raw))
		return nil
	}
	cmd.Println(out.String())
	return nil
}

// describeRemoteError adds the error kind and, for rate limits, the
// server-supplied wait to err.
func describeRemoteError(op string, err error) error {
	kind := domain.KindOf(err)
	if errors.Is(err, domain.ErrAuthRequired) {
		return fmt.Errorf("%s: not signed in or session expired, run 'propops auth login': %w", op, err)
	}
	if d, ok := domain.RetryAfterOf(err); ok && d > 0 {
		return fmt.Errorf("%s (%s, retry in %s): %w", op, kind, d, err)
	}
	return fmt.Errorf("%s (%s): %w", op, kind, err)
}
