package cli

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
)

// fakeSync implements driving.SyncOrchestrator. Start replays events to the
// subscribers from a separate goroutine.
type fakeSync struct {
	mu       sync.Mutex
	subs     []func(domain.SyncProgressEvent)
	events   []domain.SyncProgressEvent
	startErr error
	status   domain.SyncStatus
	started  int
}

var _ driving.SyncOrchestrator = (*fakeSync)(nil)

func (f *fakeSync) Start(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started++
	subs := append([]func(domain.SyncProgressEvent){}, f.subs...)
	events := f.events
	go func() {
		for _, ev := range events {
			for _, fn := range subs {
				fn(ev)
			}
		}
	}()
	return "run-1", nil
}

func (f *fakeSync) SubscribeProgress(fn func(domain.SyncProgressEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeSync) Status() domain.SyncStatus { return f.status }

func TestSyncCmd_NotConfigured(t *testing.T) {
	setupRuntime(t, &Runtime{})

	err := execute("sync", "--plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestSyncCmd_PlainProgress(t *testing.T) {
	orch := &fakeSync{events: []domain.SyncProgressEvent{
		{RunID: "other", State: domain.SyncRunning, Progress: domain.SyncJobProgress{TotalUnits: 9, CompletedUnits: 9}},
		{RunID: "run-1", State: domain.SyncRunning},
		{RunID: "run-1", State: domain.SyncRunning, Progress: domain.SyncJobProgress{TotalUnits: 4, CompletedUnits: 2}, EstimatedTimeLeft: 3 * time.Second},
		{RunID: "run-1", State: domain.SyncRunning, Progress: domain.SyncJobProgress{TotalUnits: 4, CompletedUnits: 2}},
		{RunID: "run-1", State: domain.SyncIdle, Summary: &domain.SyncSummary{RunID: "run-1", Synced: 4, Pages: 2, Duration: 1500 * time.Millisecond}},
	}}
	buf := setupRuntime(t, &Runtime{Sync: orch})

	require.NoError(t, execute("sync", "--plain"))

	out := buf.String()
	assert.Contains(t, out, "Sync run-1 started.")
	assert.Contains(t, out, "2/4 bookings (50%), ~3s left")
	assert.NotContains(t, out, "9/9")
	assert.Equal(t, 1, strings.Count(out, "2/4 bookings"))
	assert.Contains(t, out, "Synced 4 bookings in 2 page(s) (1.5s).")
}

func TestSyncCmd_PlainFailure(t *testing.T) {
	cause := domain.NewRemoteError(domain.KindTransientNetwork, "list bookings", errors.New("connection reset"))
	orch := &fakeSync{events: []domain.SyncProgressEvent{
		{RunID: "run-1", State: domain.SyncCountingDown, Err: cause, RetryIn: 10 * time.Second},
	}}
	setupRuntime(t, &Runtime{Sync: orch})

	err := execute("sync", "--plain")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient_network")
}

func TestSyncCmd_CoolingDown(t *testing.T) {
	orch := &fakeSync{
		startErr: domain.ErrSyncCoolingDown,
		status:   domain.SyncStatus{State: domain.SyncCountingDown, RetryIn: 7 * time.Second},
	}
	setupRuntime(t, &Runtime{Sync: orch})

	err := execute("sync", "--plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry in 7s")
}

func TestSyncCmd_InProgress(t *testing.T) {
	orch := &fakeSync{startErr: domain.ErrSyncInProgress}
	setupRuntime(t, &Runtime{Sync: orch})

	err := execute("sync", "--plain")
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
}

func TestForward_DropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan domain.SyncProgressEvent)
	fn := forward(ctx, ch)

	cancel()
	done := make(chan struct{})
	go func() {
		fn(domain.SyncProgressEvent{RunID: "run-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward blocked after cancel")
	}
}
