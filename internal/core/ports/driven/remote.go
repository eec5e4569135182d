package driven

import (
	"context"
	"encoding/json"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// RemoteClient talks to the remote data service.
// Every error it returns wraps a *domain.RemoteError so callers can decide
// retry behaviour with domain.KindOf.
type RemoteClient interface {
	// Fetch reads a resource (e.g. "profiles/me").
	Fetch(ctx context.Context, resource string) (json.RawMessage, error)

	// Apply persists a mutation remotely. The mutation ID is sent as the
	// idempotency key so a replayed mutation is applied at most once.
	Apply(ctx context.Context, m domain.QueuedMutation) error
}
