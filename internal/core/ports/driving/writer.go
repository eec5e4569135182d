package driving

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// Writer is the optimistic write path: a write goes straight to the remote
// service while online and falls back to the mutation queue otherwise.
type Writer interface {
	// Mutate applies m or queues it. Validation and auth failures are
	// returned; retryable failures are queued and reported as accepted.
	Mutate(ctx context.Context, m domain.QueuedMutation) (domain.MutationReceipt, error)

	// SetOnline records connectivity. Going online flushes the queue.
	SetOnline(online bool)

	// Online reports the last recorded connectivity.
	Online() bool
}
