package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/logger"
)

// RefreshFunc re-reads whatever a change channel invalidates.
type RefreshFunc func(ctx context.Context) error

// ChangeDebouncer collapses bursts of change events on one channel into at
// most one refresh per MinInterval.
//
//	Idle --event, window open--> Refreshing --done--> Idle
//	Idle --event, window shut--> Scheduled --timer--> Refreshing
//
// Events that arrive while Scheduled or Refreshing are dropped.
type ChangeDebouncer struct {
	channel     string
	key         string
	minInterval time.Duration
	clock       driven.Clock
	coalescer   *Coalescer
	refresh     RefreshFunc

	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         domain.DebounceState
	lastRefreshAt time.Time
	backoffUntil  time.Time
	timer         driven.Timer
	refreshes     int
	dropped       int
	closed        bool
}

// NewChangeDebouncer creates a debouncer for channel. Each debouncer
// coalesces under its own key, so subscribers sharing a channel all refresh.
func NewChangeDebouncer(
	channel string,
	minInterval time.Duration,
	clock driven.Clock,
	coalescer *Coalescer,
	refresh RefreshFunc,
) *ChangeDebouncer {
	life, cancel := context.WithCancel(context.Background())
	return &ChangeDebouncer{
		channel:     channel,
		key:         "changes:" + channel + ":" + uuid.NewString(),
		minInterval: minInterval,
		clock:       clock,
		coalescer:   coalescer,
		refresh:     refresh,
		life:        life,
		cancel:      cancel,
		state:       domain.DebounceIdle,
	}
}

// Notify handles one change event. It never blocks on the refresh.
func (d *ChangeDebouncer) Notify(domain.ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if d.state != domain.DebounceIdle {
		d.dropped++
		return
	}

	now := d.clock.Now()
	earliest := d.nextWindowLocked()
	if !now.Before(earliest) {
		d.state = domain.DebounceRefreshing
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run()
		}()
		return
	}

	d.state = domain.DebounceScheduled
	d.timer = d.clock.AfterFunc(earliest.Sub(now), d.fire)
}

// State returns a snapshot of the subscription state.
func (d *ChangeDebouncer) State() domain.SubscriptionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return domain.SubscriptionState{
		ChannelKey:    d.channel,
		State:         d.state,
		LastRefreshAt: d.lastRefreshAt,
		BackoffUntil:  d.backoffUntil,
		Pending:       d.timer != nil,
		Refreshes:     d.refreshes,
		Dropped:       d.dropped,
	}
}

// Wait blocks until refreshes started by Notify have finished.
func (d *ChangeDebouncer) Wait() {
	d.wg.Wait()
}

// Close cancels the armed timer and the context of a running refresh.
// Later events are ignored.
func (d *ChangeDebouncer) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.cancel()
}

func (d *ChangeDebouncer) nextWindowLocked() time.Time {
	var earliest time.Time
	if !d.lastRefreshAt.IsZero() {
		earliest = d.lastRefreshAt.Add(d.minInterval)
	}
	if d.backoffUntil.After(earliest) {
		earliest = d.backoffUntil
	}
	return earliest
}

func (d *ChangeDebouncer) fire() {
	d.mu.Lock()
	if d.closed || d.state != domain.DebounceScheduled {
		d.mu.Unlock()
		return
	}
	d.state = domain.DebounceRefreshing
	d.timer = nil
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	d.run()
}

func (d *ChangeDebouncer) run() {
	_, err := Coalesce(d.life, d.coalescer, d.key, func(ctx context.Context) (struct{}, error) {
		ctx, cancel := ownedBy(ctx, d.life)
		defer cancel()
		return struct{}{}, d.refresh(ctx)
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	d.lastRefreshAt = now
	d.refreshes++
	d.state = domain.DebounceIdle

	if err == nil {
		return
	}
	if d.closed {
		return
	}
	kind := domain.KindOf(err)
	if kind == domain.KindRateLimited {
		wait := 2 * d.minInterval
		if after, ok := domain.RetryAfterOf(err); ok {
			wait = after
		}
		d.backoffUntil = now.Add(wait)
	}
	logger.Warn("changes %s: refresh failed (%s): %v", d.channel, kind, err)
}
