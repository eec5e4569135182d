package driving

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// SyncOrchestrator runs the external booking provider sync.
type SyncOrchestrator interface {
	// Start launches a run in the background and returns its run ID.
	// Returns domain.ErrSyncInProgress while a run is active and
	// domain.ErrSyncCoolingDown during the post-failure countdown.
	Start(ctx context.Context) (string, error)

	// SubscribeProgress registers fn for progress events. The returned
	// function removes the subscription.
	SubscribeProgress(fn func(domain.SyncProgressEvent)) (unsubscribe func())

	// Status returns a snapshot of the orchestrator.
	Status() domain.SyncStatus
}
