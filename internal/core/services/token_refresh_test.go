package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// mockRefresher implements driven.CredentialRefresher for testing.
type mockRefresher struct {
	calls   atomic.Int32
	next    func() (domain.Credential, error)
	release chan struct{}
}

func (r *mockRefresher) Refresh(ctx context.Context) (domain.Credential, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	if r.next == nil {
		return domain.Credential{AccessToken: "fresh"}, nil
	}
	return r.next()
}

func testAuthConfig() domain.AuthConfig {
	return domain.AuthConfig{
		LeadTime:    domain.Duration(60 * time.Second),
		MinInterval: domain.Duration(5 * time.Minute),
	}
}

func TestTokenRefresh_FiresLeadTimeBeforeExpiry(t *testing.T) {
	clk := newTestClock()
	refresher := &mockRefresher{}
	s := NewTokenRefreshScheduler(refresher, clk, NewCoalescer(), testAuthConfig())
	defer s.Dispose()

	s.ScheduleRefresh(testEpoch.Add(10 * time.Minute))
	assert.Equal(t, testEpoch.Add(9*time.Minute), s.TargetAt())

	clk.Advance(9*time.Minute - time.Second)
	assert.Equal(t, int32(0), refresher.calls.Load())

	clk.Advance(time.Second)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, testEpoch.Add(9*time.Minute), s.LastRefreshAt())
}

func TestTokenRefresh_OnlyOneTimerOutstanding(t *testing.T) {
	clk := newTestClock()
	refresher := &mockRefresher{}
	s := NewTokenRefreshScheduler(refresher, clk, NewCoalescer(), testAuthConfig())
	defer s.Dispose()

	s.ScheduleRefresh(testEpoch.Add(10 * time.Minute))
	s.ScheduleRefresh(testEpoch.Add(20 * time.Minute))
	s.ScheduleRefresh(testEpoch.Add(30 * time.Minute))

	assert.Equal(t, 1, clk.Pending())
	assert.Equal(t, testEpoch.Add(29*time.Minute), s.TargetAt())

	clk.Advance(time.Hour)
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestTokenRefresh_MinIntervalDefersTarget(t *testing.T) {
	clk := newTestClock()
	refresher := &mockRefresher{}
	s := NewTokenRefreshScheduler(refresher, clk, NewCoalescer(), testAuthConfig())
	defer s.Dispose()

	// First real refresh happens immediately.
	s.ScheduleRefresh(testEpoch)
	clk.Advance(0)
	require.Equal(t, int32(1), refresher.calls.Load())

	// A credential that is already inside the lead window only moves the target.
	clk.Advance(time.Minute)
	s.ScheduleRefresh(clk.Now().Add(30 * time.Second))
	assert.Equal(t, testEpoch.Add(5*time.Minute), s.TargetAt())

	clk.Advance(3*time.Minute + 59*time.Second)
	assert.Equal(t, int32(1), refresher.calls.Load())

	clk.Advance(time.Second)
	assert.Equal(t, int32(2), refresher.calls.Load())
}

func TestTokenRefresh_ReschedulesFromNewExpiry(t *testing.T) {
	clk := newTestClock()
	refresher := &mockRefresher{}
	refresher.next = func() (domain.Credential, error) {
		return domain.Credential{AccessToken: "t", ExpiresAt: clk.Now().Add(time.Hour)}, nil
	}
	s := NewTokenRefreshScheduler(refresher, clk, NewCoalescer(), testAuthConfig())
	defer s.Dispose()

	var refreshed []domain.Credential
	s.OnRefreshed = func(c domain.Credential) { refreshed = append(refreshed, c) }

	s.ScheduleRefresh(testEpoch.Add(2 * time.Minute))
	clk.Advance(time.Minute)

	require.Len(t, refreshed, 1)
	assert.Equal(t, testEpoch.Add(time.Minute+time.Hour-time.Minute), s.TargetAt())
}

func TestTokenRefresh_FailureIsSwallowed(t *testing.T) {
	clk := newTestClock()
	refresher := &mockRefresher{next: func() (domain.Credential, error) {
		return domain.Credential{}, domain.NewRemoteError(domain.KindTransientNetwork, "refresh", errors.New("offline"))
	}}
	s := NewTokenRefreshScheduler(refresher, clk, NewCoalescer(), testAuthConfig())
	defer s.Dispose()

	called := false
	s.OnRefreshed = func(domain.Credential) { called = true }

	s.ScheduleRefresh(testEpoch.Add(time.Minute))
	assert.NotPanics(t, func() { clk.Advance(time.Minute) })

	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.False(t, called)
	assert.True(t, s.TargetAt().IsZero())
	assert.Equal(t, testEpoch, s.LastRefreshAt())
}

func TestTokenRefresh_ConcurrentTriggersCollapse(t *testing.T) {
	clk := newTestClock()
	refresher := &mockRefresher{release: make(chan struct{})}
	coalescer := NewCoalescer()
	s := NewTokenRefreshScheduler(refresher, clk, coalescer, testAuthConfig())
	defer s.Dispose()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Refresh(context.Background())
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return coalescer.Waiters(tokenRefreshKey) == 5 }, time.Second, time.Millisecond)
	close(refresher.release)
	wg.Wait()

	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestTokenRefresh_DisposeCancelsTimer(t *testing.T) {
	clk := newTestClock()
	refresher := &mockRefresher{}
	s := NewTokenRefreshScheduler(refresher, clk, NewCoalescer(), testAuthConfig())

	s.ScheduleRefresh(testEpoch.Add(10 * time.Minute))
	s.Dispose()
	assert.Zero(t, clk.Pending())

	clk.Advance(time.Hour)
	assert.Equal(t, int32(0), refresher.calls.Load())

	s.ScheduleRefresh(testEpoch.Add(2 * time.Hour))
	assert.Zero(t, clk.Pending())

	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrDisposed)
}

// blockingRefresher waits for its context to end.
type blockingRefresher struct {
	started chan struct{}
}

func (r *blockingRefresher) Refresh(ctx context.Context) (domain.Credential, error) {
	close(r.started)
	<-ctx.Done()
	return domain.Credential{}, ctx.Err()
}

func TestTokenRefresh_DisposeCancelsInFlightRefresh(t *testing.T) {
	refresher := &blockingRefresher{started: make(chan struct{})}
	s := NewTokenRefreshScheduler(refresher, newTestClock(), NewCoalescer(), testAuthConfig())
	var notified atomic.Bool
	s.OnRefreshed = func(domain.Credential) { notified.Store(true) }

	errs := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background())
		errs <- err
	}()

	<-refresher.started
	s.Dispose()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("refresh still running after Dispose")
	}
	assert.False(t, notified.Load())
}
