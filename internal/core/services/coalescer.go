package services

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Coalescer collapses concurrent identical in-flight operations into one.
// Nothing is cached: once an operation completes its key is forgotten and
// the next caller starts a fresh call.
type Coalescer struct {
	group singleflight.Group

	mu      sync.Mutex
	waiters map[string]int

	life   context.Context
	cancel context.CancelFunc
}

// NewCoalescer creates a coalescer. Close cancels every in-flight call.
func NewCoalescer() *Coalescer {
	life, cancel := context.WithCancel(context.Background())
	return &Coalescer{
		waiters: make(map[string]int),
		life:    life,
		cancel:  cancel,
	}
}

// Do runs fn once per key for all callers that arrive while it is in flight.
// Every caller receives the same value and error. shared reports whether the
// result was delivered to more than one caller.
//
// fn receives a context that keeps the values of the first caller's ctx but
// not its cancellation: a caller that gives up returns ctx.Err() without
// cancelling the call for the remaining waiters.
func (c *Coalescer) Do(
	ctx context.Context,
	key string,
	fn func(ctx context.Context) (any, error),
) (v any, shared bool, err error) {
	c.addWaiter(key, 1)
	defer c.addWaiter(key, -1)

	ch := c.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(c.life, cancel)
		defer stop()
		return fn(callCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Waiters returns the number of callers currently waiting on key.
func (c *Coalescer) Waiters(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters[key]
}

// Forget makes the next call for key start a new operation even if the
// current one is still running.
func (c *Coalescer) Forget(key string) {
	c.group.Forget(key)
}

// Close cancels the context of every in-flight call.
func (c *Coalescer) Close() {
	c.cancel()
}

func (c *Coalescer) addWaiter(key string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters[key] += delta
	if c.waiters[key] <= 0 {
		delete(c.waiters, key)
	}
}

// ownedBy derives a context from ctx that is also cancelled when owner ends.
// Components wrap their coalesced work with it so that closing the component
// stops a call only that component started.
func ownedBy(ctx, owner context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(owner, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Coalesce is the typed form of Coalescer.Do. The value fn returned is
// passed through even when err is non-nil.
func Coalesce[T any](
	ctx context.Context,
	c *Coalescer,
	key string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	v, _, err := c.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	t, _ := v.(T)
	return t, err
}
