package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/propops/internal/core/ports/driving"
	"github.com/custodia-labs/propops/internal/logger"
)

var (
	watchRefresh     string
	watchNoScheduler bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <channel>...",
	Short: "Follow change notifications",
	Long: `Subscribe to change channels and report debounced refreshes until
interrupted. Bursts of notifications on a channel collapse into at most one
refresh per configured window.

With --refresh, the given resource is re-read through the cache on every
refresh. While watching, the background scheduler flushes queued writes
and runs periodic booking syncs when enabled in the configuration.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRefresh, "refresh", "", "resource to re-read on every refresh")
	watchCmd.Flags().BoolVar(&watchNoScheduler, "no-scheduler", false, "do not run background tasks")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	// Output from debounced callbacks is serialised.
	var outMu sync.Mutex
	printf := func(format string, a ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		cmd.Printf(format, a...)
	}

	subs := make([]driving.Subscription, 0, len(args))
	defer func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				logger.Warn("unsubscribe %s: %v", sub.Channel(), err)
			}
		}
	}()

	for _, channel := range args {
		sub, err := rt.Changes.SubscribeToChanges(ctx, channel, refreshFunc(rt, channel, printf))
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", channel, err)
		}
		subs = append(subs, sub)
	}

	if !watchNoScheduler && rt.Scheduler != nil && rt.Config.Scheduler.Enabled {
		stop := startScheduler(ctx, rt.Scheduler)
		defer stop()
	}

	printf("Watching %d channel(s). Press Ctrl+C to stop.\n", len(subs))
	<-ctx.Done()
	return nil
}

func refreshFunc(rt *Runtime, channel string, printf func(string, ...any)) func(context.Context) error {
	return func(ctx context.Context) error {
		stamp := time.Now().Format(time.TimeOnly)
		if watchRefresh == "" {
			printf("[%s] %s changed\n", stamp, channel)
			return nil
		}

		rt.Cache.Invalidate(watchRefresh)
		raw, err := rt.Cache.Get(ctx, watchRefresh, 0)
		if err != nil {
			printf("[%s] %s changed, refreshing %s failed: %v\n", stamp, channel, watchRefresh, err)
			return err
		}
		printf("[%s] %s changed, %s refreshed (%d bytes)\n", stamp, channel, watchRefresh, len(raw))
		return nil
	}
}

// startScheduler runs s in the background and returns a function that
// stops it and waits for it to exit.
func startScheduler(ctx context.Context, s driving.Scheduler) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("scheduler stopped: %v", err)
		}
	}()
	return func() {
		if err := s.Stop(); err != nil {
			logger.Warn("scheduler stop: %v", err)
		}
		<-done
	}
}
