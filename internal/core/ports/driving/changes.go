package driving

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// ChangeSubscriber wires change notifications to debounced refreshes.
type ChangeSubscriber interface {
	// SubscribeToChanges calls onChange at most once per configured window
	// for bursts of events on channel. Close the returned subscription on
	// teardown.
	SubscribeToChanges(ctx context.Context, channel string, onChange func(context.Context) error) (Subscription, error)
}

// Subscription is a revocable change subscription.
type Subscription interface {
	// Channel returns the subscribed channel.
	Channel() string

	// State returns the debouncer state.
	State() domain.SubscriptionState

	// Unsubscribe stops delivery and cancels any armed refresh.
	Unsubscribe() error
}
