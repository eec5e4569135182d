// Package cli provides the propops command line interface.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
	"github.com/custodia-labs/propops/internal/logger"
)

var version = "dev"

// Global flags.
var (
	configDir string
	verbose   bool
	ephemeral bool
)

// Options are the global flags handed to the bootstrap function.
type Options struct {
	ConfigDir string
	Verbose   bool

	// Ephemeral keeps all state in memory for the lifetime of the command.
	Ephemeral bool
}

// Runtime is what the commands operate on. Optional services are nil when
// not configured.
type Runtime struct {
	Config     domain.Config
	ConfigPath string

	// SaveConfig writes cfg to ConfigPath.
	SaveConfig func(cfg domain.Config) error

	Cache       driving.ProfileCache
	Queue       driving.MutationQueue
	Changes     driving.ChangeSubscriber
	Credentials driving.CredentialService
	Writer      driving.Writer

	Tokens    driving.TokenRefresher
	Sync      driving.SyncOrchestrator
	Scheduler driving.Scheduler

	// Close releases the runtime.
	Close func() error
}

// Bootstrap builds the runtime from the global flags.
type Bootstrap func(ctx context.Context, opts Options) (*Runtime, error)

var (
	bootstrap Bootstrap
	current   *Runtime
)

// errNotConfigured is returned when no bootstrap function was installed.
var errNotConfigured = errors.New("propops is not configured")

var rootCmd = &cobra.Command{
	Use:   "propops",
	Short: "Resilient client for the property operations service",
	Long: `propops talks to the property operations data service and keeps
working when the network does not.

Reads are cached with a TTL, writes made while offline are queued and
replayed in order, and bookings are copied from the external provider
under its rate limits.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logger.SetVerbose(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ~/.propops)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "keep queue, cache and credentials in memory only")
}

// SetBootstrap installs the function that builds the runtime on first use.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// Execute runs the root command and releases the runtime afterwards.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if cerr := closeRuntime(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// runtimeFor builds the runtime once per process.
func runtimeFor(cmd *cobra.Command) (*Runtime, error) {
	if current != nil {
		return current, nil
	}
	if bootstrap == nil {
		return nil, errNotConfigured
	}
	rt, err := bootstrap(cmd.Context(), Options{
		ConfigDir: configDir,
		Verbose:   verbose,
		Ephemeral: ephemeral,
	})
	if err != nil {
		return nil, err
	}
	if verbose {
		logger.SetVerbose(true)
	}
	current = rt
	return rt, nil
}

func closeRuntime() error {
	if current == nil {
		return nil
	}
	rt := current
	current = nil
	if rt.Close == nil {
		return nil
	}
	return rt.Close()
}
