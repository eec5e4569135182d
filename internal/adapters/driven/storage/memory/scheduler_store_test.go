package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/propops/internal/core/domain"
)

func TestSchedulerStore_GetTask_NotFound(t *testing.T) {
	task, err := NewSchedulerStore().GetTask(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestSchedulerStore_SaveListDelete(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: "queue-flush", Interval: time.Minute}))
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: "provider-sync", Interval: time.Hour}))
	assert.ErrorIs(t, store.SaveTask(ctx, nil), domain.ErrInvalidInput)

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "provider-sync", tasks[0].ID)

	require.NoError(t, store.DeleteTask(ctx, "provider-sync"))
	task, err := store.GetTask(ctx, "provider-sync")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestSchedulerStore_HistoryAndPrune(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{
			TaskID:         "queue-flush",
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			ItemsProcessed: i,
		}))
	}
	assert.ErrorIs(t, store.RecordResult(ctx, nil), domain.ErrInvalidInput)

	history, err := store.GetTaskHistory(ctx, "queue-flush", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4, history[0].ItemsProcessed)
	assert.Equal(t, 3, history[1].ItemsProcessed)

	require.NoError(t, store.PruneHistory(ctx, 3))
	history, err = store.GetTaskHistory(ctx, "queue-flush", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []int{4, 3, 2}, []int{
		history[0].ItemsProcessed, history[1].ItemsProcessed, history[2].ItemsProcessed,
	})
}

func TestSchedulerStore_KeepsOutcomeFields(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: "provider-sync", Interval: time.Hour, Failures: 2}))
	task, err := store.GetTask(ctx, "provider-sync")
	require.NoError(t, err)
	assert.Equal(t, 2, task.Failures)

	require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{
		TaskID:    "provider-sync",
		ErrorKind: domain.KindRateLimited,
		Detail:    "skipped: sync in progress",
	}))
	history, err := store.GetTaskHistory(ctx, "provider-sync", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.KindRateLimited, history[0].ErrorKind)
	assert.Equal(t, "skipped: sync in progress", history[0].Detail)
}
