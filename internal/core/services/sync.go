package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
	"github.com/custodia-labs/propops/internal/logger"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

// SyncOptions configures a SyncOrchestrator.
type SyncOptions struct {
	PageSize       int
	Cooldown       time.Duration
	CountdownTick  time.Duration
	MaxPageRetries int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// SyncOptionsFromConfig maps the sync section of the config.
func SyncOptionsFromConfig(cfg domain.SyncConfig) SyncOptions {
	return SyncOptions{
		PageSize:       cfg.PageSize,
		Cooldown:       cfg.Cooldown.Std(),
		CountdownTick:  cfg.CountdownTick.Std(),
		MaxPageRetries: cfg.MaxPageRetries,
		BaseDelay:      time.Second,
		MaxDelay:       time.Minute,
	}
}

// SyncOrchestrator copies bookings from the external provider into the
// remote data service. At most one run is active at a time; after a failure
// new runs are refused until the cooldown countdown reaches zero.
type SyncOrchestrator struct {
	provider driven.BookingProvider
	sink     driven.BookingSink
	clock    driven.Clock
	opts     SyncOptions

	wg sync.WaitGroup

	mu          sync.RWMutex
	state       domain.SyncState
	runID       string
	progress    domain.SyncJobProgress
	lastSummary *domain.SyncSummary
	lastErr     error
	retryIn     time.Duration
	countdown   driven.Timer
	cancelRun   context.CancelFunc
	subs        map[int]func(domain.SyncProgressEvent)
	nextSub     int
	closed      bool
}

// NewSyncOrchestrator creates an idle orchestrator.
func NewSyncOrchestrator(
	provider driven.BookingProvider,
	sink driven.BookingSink,
	clock driven.Clock,
	opts SyncOptions,
) *SyncOrchestrator {
	if opts.PageSize < 1 {
		opts.PageSize = 100
	}
	if opts.CountdownTick <= 0 {
		opts.CountdownTick = time.Second
	}
	return &SyncOrchestrator{
		provider: provider,
		sink:     sink,
		clock:    clock,
		opts:     opts,
		state:    domain.SyncIdle,
		subs:     make(map[int]func(domain.SyncProgressEvent)),
	}
}

// Start launches a run in the background and returns its ID. A Start while
// a run is active or cooling down changes nothing and reports why.
func (o *SyncOrchestrator) Start(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.closed:
		return "", domain.ErrDisposed
	case o.state == domain.SyncRunning:
		return o.runID, domain.ErrSyncInProgress
	case o.state == domain.SyncCountingDown:
		return "", fmt.Errorf("%w: retry in %s", domain.ErrSyncCoolingDown, o.retryIn)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.state = domain.SyncRunning
	o.runID = uuid.NewString()
	o.progress = domain.SyncJobProgress{StartedAt: o.clock.Now()}
	o.cancelRun = cancel

	runID := o.runID
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(runCtx, runID)
	}()

	logger.Info("sync %s: started", runID)
	return runID, nil
}

// SubscribeProgress registers fn for progress events. Events are delivered
// in order from a single goroutine per run.
func (o *SyncOrchestrator) SubscribeProgress(fn func(domain.SyncProgressEvent)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// Status returns a snapshot of the orchestrator.
func (o *SyncOrchestrator) Status() domain.SyncStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.statusLocked()
}

// Wait blocks until the active run, if any, has finished.
func (o *SyncOrchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels the active run and the countdown.
func (o *SyncOrchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	if o.cancelRun != nil {
		o.cancelRun()
	}
	if o.countdown != nil {
		o.countdown.Stop()
		o.countdown = nil
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *SyncOrchestrator) statusLocked() domain.SyncStatus {
	return domain.SyncStatus{
		State:       o.state,
		RunID:       o.runID,
		Progress:    o.progress,
		LastSummary: o.lastSummary,
		LastError:   o.lastErr,
		RetryIn:     o.retryIn,
	}
}

func (o *SyncOrchestrator) run(ctx context.Context, runID string) {
	o.emit(nil, nil)

	summary, err := o.copyBookings(ctx, runID)
	if err != nil {
		o.fail(runID, err)
		return
	}

	o.mu.Lock()
	o.state = domain.SyncIdle
	o.lastErr = nil
	o.lastSummary = summary
	o.cancelRun = nil
	o.mu.Unlock()

	logger.Info("sync %s: completed, %d bookings in %d pages (%s)", runID, summary.Synced, summary.Pages, summary.Duration)
	o.emit(summary, nil)
}

func (o *SyncOrchestrator) copyBookings(ctx context.Context, runID string) (*domain.SyncSummary, error) {
	var total int
	err := o.withRetry(ctx, "count bookings", func() error {
		var err error
		total, err = o.provider.CountBookings(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.updateProgress(func(p *domain.SyncJobProgress) { p.TotalUnits = total })
	o.emit(nil, nil)

	var (
		cursor string
		synced int
		pages  int
	)
	for {
		var page domain.BookingPage
		err := o.withRetry(ctx, "fetch bookings", func() error {
			var err error
			page, err = o.provider.FetchBookings(ctx, cursor, o.opts.PageSize)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(page.Bookings) > 0 {
			if err := o.sink.UpsertBookings(ctx, page.Bookings); err != nil {
				return nil, fmt.Errorf("store bookings: %w", err)
			}
		}

		synced += len(page.Bookings)
		pages++
		now := o.clock.Now()
		o.updateProgress(func(p *domain.SyncJobProgress) {
			p.CompletedUnits = synced
			if synced > p.TotalUnits {
				p.TotalUnits = synced
			}
			if elapsed := now.Sub(p.StartedAt).Seconds(); elapsed > 0 {
				p.UnitsPerSecond = float64(synced) / elapsed
			}
		})
		o.emit(nil, nil)

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	o.mu.RLock()
	started := o.progress.StartedAt
	o.mu.RUnlock()
	return &domain.SyncSummary{
		RunID:    runID,
		Synced:   synced,
		Pages:    pages,
		Duration: o.clock.Now().Sub(started),
	}, nil
}

// withRetry retries rate-limited and transient provider failures up to
// MaxPageRetries, waiting the server hint or the backoff in between.
func (o *SyncOrchestrator) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		kind := domain.KindOf(err)
		if ctx.Err() != nil || !kind.Retryable() || attempt >= o.opts.MaxPageRetries {
			return fmt.Errorf("%s: %w", op, err)
		}
		delay := domain.RetryDelay(err, o.opts.BaseDelay, o.opts.MaxDelay, attempt)
		logger.Debug("sync: %s failed (%s), retry %d in %s", op, kind, attempt+1, delay)
		if err := o.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
}

func (o *SyncOrchestrator) sleep(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	t := o.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

func (o *SyncOrchestrator) fail(runID string, err error) {
	o.mu.Lock()
	o.lastErr = err
	o.cancelRun = nil
	if o.closed || o.opts.Cooldown <= 0 {
		o.state = domain.SyncIdle
		o.retryIn = 0
	} else {
		o.state = domain.SyncCountingDown
		o.retryIn = o.opts.Cooldown
		o.armCountdownLocked()
	}
	o.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		logger.Info("sync %s: cancelled", runID)
	} else {
		logger.Warn("sync %s: failed (%s): %v", runID, domain.KindOf(err), err)
	}
	o.emit(nil, err)
}

func (o *SyncOrchestrator) armCountdownLocked() {
	tick := o.opts.CountdownTick
	if o.retryIn < tick {
		tick = o.retryIn
	}
	o.countdown = o.clock.AfterFunc(tick, func() { o.tick(tick) })
}

func (o *SyncOrchestrator) tick(elapsed time.Duration) {
	o.mu.Lock()
	if o.closed || o.state != domain.SyncCountingDown {
		o.mu.Unlock()
		return
	}
	o.retryIn -= elapsed
	if o.retryIn <= 0 {
		o.retryIn = 0
		o.state = domain.SyncIdle
		o.countdown = nil
	} else {
		o.armCountdownLocked()
	}
	o.mu.Unlock()

	o.emit(nil, nil)
}

func (o *SyncOrchestrator) updateProgress(fn func(p *domain.SyncJobProgress)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.progress)
}

func (o *SyncOrchestrator) emit(summary *domain.SyncSummary, err error) {
	o.mu.RLock()
	status := o.statusLocked()
	subs := make([]func(domain.SyncProgressEvent), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.RUnlock()

	event := domain.SyncProgressEvent{
		RunID:             status.RunID,
		State:             status.State,
		Progress:          status.Progress,
		EstimatedTimeLeft: status.Progress.EstimatedTimeLeft(),
		Summary:           summary,
		Err:               err,
		RetryIn:           status.RetryIn,
	}
	for _, fn := range subs {
		fn(event)
	}
}
