package driving

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// MutationQueue is the durable queue of writes awaiting delivery.
type MutationQueue interface {
	// Enqueue accepts a mutation and returns once it is durably stored.
	// ID and CreatedAt are filled in when empty.
	Enqueue(ctx context.Context, m domain.QueuedMutation) (domain.QueuedMutation, error)

	// HasPending reports whether any mutation is waiting for delivery.
	HasPending(ctx context.Context) (bool, error)

	// Pending lists queued mutations in createdAt order.
	Pending(ctx context.Context) ([]domain.QueuedMutation, error)

	// DeadLetters lists mutations that exhausted their retry budget.
	DeadLetters(ctx context.Context) ([]domain.DeadLetter, error)

	// Flush delivers queued mutations. Concurrent calls share one pass.
	Flush(ctx context.Context) (domain.FlushResult, error)

	// RetryDeadLetter moves a dead-lettered mutation back to the queue
	// with a fresh retry budget.
	RetryDeadLetter(ctx context.Context, id string) error

	// DiscardDeadLetter drops a dead-lettered mutation permanently.
	DiscardDeadLetter(ctx context.Context, id string) error
}
