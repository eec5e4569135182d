package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
	"github.com/custodia-labs/propops/internal/logger"
)

// Ensure ChangeService implements the interface.
var _ driving.ChangeSubscriber = (*ChangeService)(nil)

// ChangeService subscribes debounced refreshes to a change feed.
type ChangeService struct {
	feed        driven.ChangeFeed
	clock       driven.Clock
	coalescer   *Coalescer
	minInterval time.Duration

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewChangeService creates a change service over feed.
func NewChangeService(feed driven.ChangeFeed, clock driven.Clock, coalescer *Coalescer, minInterval time.Duration) *ChangeService {
	return &ChangeService{
		feed:        feed,
		clock:       clock,
		coalescer:   coalescer,
		minInterval: minInterval,
		subs:        make(map[*Subscription]struct{}),
	}
}

// Subscription is the revocable handle returned by SubscribeToChanges.
type Subscription struct {
	service   *ChangeService
	debouncer *ChangeDebouncer
	feedSub   driven.FeedSubscription
	once      sync.Once
}

// SubscribeToChanges debounces events on channel into calls to onChange.
func (s *ChangeService) SubscribeToChanges(
	ctx context.Context,
	channel string,
	onChange func(context.Context) error,
) (driving.Subscription, error) {
	return s.Subscribe(ctx, channel, onChange)
}

// Subscribe is SubscribeToChanges returning the concrete handle.
func (s *ChangeService) Subscribe(ctx context.Context, channel string, onChange RefreshFunc) (*Subscription, error) {
	if channel == "" {
		return nil, fmt.Errorf("%w: channel is required", domain.ErrInvalidInput)
	}
	if s.feed == nil {
		return nil, fmt.Errorf("subscribe %s: no change feed configured", channel)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrDisposed
	}
	s.mu.Unlock()

	d := NewChangeDebouncer(channel, s.minInterval, s.clock, s.coalescer, onChange)
	feedSub, err := s.feed.Subscribe(ctx, channel, d.Notify)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &Subscription{service: s, debouncer: d, feedSub: feedSub}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	logger.Debug("subscribed to changes on %s", channel)
	return sub, nil
}

// Close unsubscribes everything.
func (s *ChangeService) Close() {
	s.mu.Lock()
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("unsubscribe %s: %v", sub.Channel(), err)
		}
	}
}

// Active returns the number of live subscriptions.
func (s *ChangeService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Channel returns the subscribed channel.
func (sub *Subscription) Channel() string {
	return sub.debouncer.channel
}

// State returns the debouncer state.
func (sub *Subscription) State() domain.SubscriptionState {
	return sub.debouncer.State()
}

// Unsubscribe stops delivery and cancels any armed refresh.
func (sub *Subscription) Unsubscribe() error {
	var err error
	sub.once.Do(func() {
		err = sub.feedSub.Unsubscribe()
		sub.debouncer.Close()

		sub.service.mu.Lock()
		delete(sub.service.subs, sub)
		sub.service.mu.Unlock()
	})
	return err
}
