// Package memory provides an in-process ChangeFeed.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/propops/internal/adapters/driven/feed"
	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
)

// Ensure Feed implements the interface.
var _ driven.ChangeFeed = (*Feed)(nil)

// Feed delivers published events synchronously to subscribers.
type Feed struct {
	registry *feed.Registry
	now      func() time.Time
}

// New creates an empty feed.
func New() *Feed {
	return &Feed{registry: feed.NewRegistry(), now: time.Now}
}

// Subscribe registers handler on channel.
func (f *Feed) Subscribe(_ context.Context, channel string, handler func(domain.ChangeEvent)) (driven.FeedSubscription, error) {
	if channel == "" || handler == nil {
		return nil, fmt.Errorf("%w: channel and handler are required", domain.ErrInvalidInput)
	}
	id, _ := f.registry.Add(channel, handler)
	return feed.NewSubscription(func() error {
		f.registry.Remove(channel, id)
		return nil
	}), nil
}

// Publish delivers ev to the subscribers of ev.Channel and returns how many
// received it.
func (f *Feed) Publish(ev domain.ChangeEvent) int {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = f.now()
	}
	return f.registry.Dispatch(ev)
}

// Subscribers returns the number of handlers on channel.
func (f *Feed) Subscribers(channel string) int {
	return f.registry.Count(channel)
}
