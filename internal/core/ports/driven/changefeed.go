package driven

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// ChangeFeed is a push-style change notification source.
type ChangeFeed interface {
	// Subscribe registers handler for events on channel. The handler may be
	// called from any goroutine and must not block for long.
	Subscribe(ctx context.Context, channel string, handler func(domain.ChangeEvent)) (FeedSubscription, error)
}

// FeedSubscription is a revocable registration on a ChangeFeed.
type FeedSubscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe() error
}
