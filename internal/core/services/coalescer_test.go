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
)

func TestCoalescer_ConcurrentCallsInvokeOnce(t *testing.T) {
	c := NewCoalescer()
	defer c.Close()

	const callers = 20
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Coalesce(context.Background(), c, "profile", fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool {
		return c.Waiters("profile") == callers
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.Zero(t, c.Waiters("profile"))
}

func TestCoalescer_ErrorBroadcastToAllWaiters(t *testing.T) {
	c := NewCoalescer()
	defer c.Close()

	boom := errors.New("boom")
	release := make(chan struct{})
	var calls atomic.Int32

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Coalesce(context.Background(), c, "k", func(ctx context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "", boom
			})
		}(i)
	}

	require.Eventually(t, func() bool { return c.Waiters("k") == 5 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
}

func TestCoalescer_NoCachingAfterCompletion(t *testing.T) {
	c := NewCoalescer()
	defer c.Close()

	var calls atomic.Int32
	fn := func(ctx context.Context) (int32, error) {
		return calls.Add(1), nil
	}

	first, err := Coalesce(context.Background(), c, "k", fn)
	require.NoError(t, err)
	second, err := Coalesce(context.Background(), c, "k", fn)
	require.NoError(t, err)

	assert.Equal(t, int32(1), first)
	assert.Equal(t, int32(2), second)
}

func TestCoalescer_DistinctKeysRunIndependently(t *testing.T) {
	c := NewCoalescer()
	defer c.Close()

	var calls atomic.Int32
	fn := func(ctx context.Context) (bool, error) {
		calls.Add(1)
		return true, nil
	}

	_, _ = Coalesce(context.Background(), c, "a", fn)
	_, _ = Coalesce(context.Background(), c, "b", fn)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoalescer_CancelledWaiterDoesNotCancelCall(t *testing.T) {
	c := NewCoalescer()
	defer c.Close()

	release := make(chan struct{})
	callErr := make(chan error, 1)

	fn := func(ctx context.Context) (string, error) {
		<-release
		callErr <- ctx.Err()
		return "done", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := Coalesce(ctx, c, "k", fn)
		leaderDone <- err
	}()
	require.Eventually(t, func() bool { return c.Waiters("k") == 1 }, time.Second, time.Millisecond)

	followerDone := make(chan string, 1)
	go func() {
		v, _ := Coalesce(context.Background(), c, "k", fn)
		followerDone <- v
	}()
	require.Eventually(t, func() bool { return c.Waiters("k") == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderDone, context.Canceled)

	close(release)
	assert.Equal(t, "done", <-followerDone)
	assert.NoError(t, <-callErr)
}

func TestCoalescer_CloseCancelsInFlight(t *testing.T) {
	c := NewCoalescer()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Coalesce(context.Background(), c, "k", func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		done <- err
	}()

	<-started
	c.Close()
	assert.ErrorIs(t, <-done, context.Canceled)
}
