package driving

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// Scheduler runs periodic background tasks such as queue flushes and
// provider syncs.
type Scheduler interface {
	// Start begins running scheduled tasks.
	// Blocks until Stop is called or ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully stops all running tasks.
	Stop() error

	// Tasks lists the persisted tasks with their last outcome.
	Tasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// History returns up to limit recent results for a task, newest first.
	History(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)
}
