package driving

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// ProfileCache serves remote lookups through a TTL cache.
type ProfileCache interface {
	// Get returns the resource, loading it when the cached entry is stale.
	// A ttl of zero uses the configured default.
	Get(ctx context.Context, resource string, ttl time.Duration) (json.RawMessage, error)

	// Invalidate drops the cached entry regardless of its ttl.
	Invalidate(resource string)

	// GetError returns the kind of the memoised failure for resource, or ""
	// when no negative entry is cached.
	GetError(resource string) domain.ErrorKind
}
