package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/propops/internal/core/domain"
)

func TestQueueList_Empty(t *testing.T) {
	buf := setupRuntime(t, &Runtime{Queue: &fakeQueue{}})

	require.NoError(t, execute("queue", "list"))
	assert.Contains(t, buf.String(), "Queue is empty.")
}

func TestQueueList_ShowsRetryState(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := &fakeQueue{pending: []domain.QueuedMutation{
		{ID: "m-1", EntityType: "task", EntityID: "t1", Operation: domain.OpUpdate, CreatedAt: created},
		{
			ID: "m-2", EntityType: "task", EntityID: "t2", Operation: domain.OpDelete, CreatedAt: created,
			RetryCount: 2, NextAttemptAt: created.Add(time.Minute), LastError: "503 from server",
		},
	}}
	buf := setupRuntime(t, &Runtime{Queue: q})

	require.NoError(t, execute("queue"))

	out := buf.String()
	assert.Contains(t, out, "2 queued mutation(s)")
	assert.Contains(t, out, "m-1  update task/t1")
	assert.Contains(t, out, "2 failed attempt(s), next attempt 2026-03-01T09:01:00Z")
	assert.Contains(t, out, "last error: 503 from server")
}

func TestQueueDead(t *testing.T) {
	q := &fakeQueue{dead: []domain.DeadLetter{{
		Mutation: domain.QueuedMutation{ID: "m-9", EntityType: "booking", EntityID: "b1", Operation: domain.OpCreate},
		Kind:     domain.KindValidation,
		Reason:   "room is required",
		FailedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}}}
	buf := setupRuntime(t, &Runtime{Queue: q})

	require.NoError(t, execute("queue", "dead"))

	out := buf.String()
	assert.Contains(t, out, "m-9  create booking/b1")
	assert.Contains(t, out, "validation at 2026-03-01T09:00:00Z: room is required")
}

func TestQueueFlush(t *testing.T) {
	q := &fakeQueue{flush: domain.FlushResult{Applied: 3, Retrying: 1, DeadLettered: 1, Deferred: 2, Remaining: 3}}
	buf := setupRuntime(t, &Runtime{Queue: q})

	require.NoError(t, execute("queue", "flush"))
	assert.Contains(t, buf.String(), "Applied 3, retrying 1, dead-lettered 1, deferred 2. 3 remaining.")
}

func TestQueueFlush_AuthRequired(t *testing.T) {
	q := &fakeQueue{flushErr: domain.ErrAuthRequired}
	setupRuntime(t, &Runtime{Queue: q})

	err := execute("queue", "flush")
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.Contains(t, err.Error(), "auth login")
}

func TestQueueEnqueue(t *testing.T) {
	q := &fakeQueue{}
	buf := setupRuntime(t, &Runtime{Queue: q})

	require.NoError(t, execute("queue", "enqueue", "task", "t1", "UPDATE", "--payload", `{"title":"x"}`))

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, domain.OpUpdate, q.enqueued[0].Operation)
	assert.Equal(t, `{"title":"x"}`, string(q.enqueued[0].Payload))
	assert.Contains(t, buf.String(), "Queued update task/t1 as m-1.")
}

func TestQueueEnqueue_PayloadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"room":"12"}`), 0o600))
	q := &fakeQueue{}
	setupRuntime(t, &Runtime{Queue: q})

	require.NoError(t, execute("queue", "enqueue", "booking", "b1", "create", "--payload-file", path))

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, `{"room":"12"}`, string(q.enqueued[0].Payload))
}

func TestQueueEnqueue_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown operation", []string{"queue", "enqueue", "task", "t1", "merge"}},
		{"both payload flags", []string{"queue", "enqueue", "task", "t1", "create", "--payload", "{}", "--payload-file", "x.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			setupRuntime(t, &Runtime{Queue: q})

			err := execute(tt.args...)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Empty(t, q.enqueued)
		})
	}
}

func TestQueueRetryAndDiscard(t *testing.T) {
	q := &fakeQueue{}
	buf := setupRuntime(t, &Runtime{Queue: q})

	require.NoError(t, execute("queue", "retry", "m-1"))
	require.NoError(t, execute("queue", "discard", "m-2"))

	assert.Equal(t, []string{"m-1"}, q.retried)
	assert.Equal(t, []string{"m-2"}, q.dropped)
	assert.Contains(t, buf.String(), "Mutation m-1 moved back to the queue.")
	assert.Contains(t, buf.String(), "Mutation m-2 discarded.")
}

func TestQueueRetry_Missing(t *testing.T) {
	setupRuntime(t, &Runtime{Queue: &fakeQueue{}})

	err := execute("queue", "retry", "missing")
	require.Error(t, err)
	assert.Equal(t, "no dead-lettered mutation missing", err.Error())
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}
