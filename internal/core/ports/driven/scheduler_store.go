package driven

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// SchedulerStore keeps the queue-flush and provider-sync schedule across
// restarts, including each task's failure streak and a bounded run log.
type SchedulerStore interface {
	// GetTask returns nil and no error for an unknown task.
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)

	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// SaveTask upserts by ID. Failures and NextRun are written as given.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error

	DeleteTask(ctx context.Context, taskID string) error

	// RecordResult appends one run, with its error kind and detail line.
	RecordResult(ctx context.Context, result *domain.TaskResult) error

	// GetTaskHistory returns at most limit runs, newest first.
	GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)

	// PruneHistory trims each task's log to its keep newest runs.
	PruneHistory(ctx context.Context, keep int) error
}
