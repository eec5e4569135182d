package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
	"github.com/custodia-labs/propops/internal/logger"
)

// Ensure MutationQueue implements the interface.
var _ driving.MutationQueue = (*MutationQueue)(nil)

// Well-known KV keys for the persisted queue.
const (
	QueueKey       = "queue/mutations"
	DeadLetterKey  = "queue/dead_letters"
	flushCoalesced = "queue:flush"
)

// QueueOptions configures a MutationQueue.
type QueueOptions struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Concurrency int
}

// QueueOptionsFromConfig maps the queue section of the config.
func QueueOptionsFromConfig(cfg domain.QueueConfig) QueueOptions {
	return QueueOptions{
		MaxRetries:  cfg.MaxRetries,
		BaseDelay:   cfg.BaseDelay.Std(),
		MaxDelay:    cfg.MaxDelay.Std(),
		Concurrency: cfg.Concurrency,
	}
}

// MutationQueue is the durable queue of writes that still have to reach the
// remote data service. Mutations of one entity are applied strictly in
// createdAt order; different entities flush concurrently.
type MutationQueue struct {
	store     driven.KVStore
	remote    driven.RemoteClient
	validator driven.PayloadValidator
	clock     driven.Clock
	coalescer *Coalescer
	opts      QueueOptions

	// OnDeadLetter surfaces mutations that need manual attention.
	OnDeadLetter func(domain.DeadLetter)

	// mu serialises read-modify-write cycles on the persisted lists.
	mu     sync.Mutex
	seq    uint64
	closed bool
}

// NewMutationQueue creates a queue. validator may be nil.
func NewMutationQueue(
	store driven.KVStore,
	remote driven.RemoteClient,
	validator driven.PayloadValidator,
	clock driven.Clock,
	coalescer *Coalescer,
	opts QueueOptions,
) *MutationQueue {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &MutationQueue{
		store:     store,
		remote:    remote,
		validator: validator,
		clock:     clock,
		coalescer: coalescer,
		opts:      opts,
	}
}

// Enqueue validates m, assigns its ID and CreatedAt when missing and its
// submission sequence number, and persists it. The write is accepted once Enqueue returns.
func (q *MutationQueue) Enqueue(ctx context.Context, m domain.QueuedMutation) (domain.QueuedMutation, error) {
	if err := m.Validate(); err != nil {
		return domain.QueuedMutation{}, err
	}
	if q.validator != nil && m.Operation != domain.OpDelete {
		if err := q.validator.Validate(m.EntityType, m.Payload); err != nil {
			return domain.QueuedMutation{}, err
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = q.clock.Now()
	}
	m.RetryCount = 0
	m.NextAttemptAt = time.Time{}
	m.LastError = ""

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.QueuedMutation{}, domain.ErrQueueClosed
	}

	queue, err := q.loadQueue(ctx)
	if err != nil {
		return domain.QueuedMutation{}, err
	}
	seq, err := q.nextSeqLocked(ctx, queue)
	if err != nil {
		return domain.QueuedMutation{}, err
	}
	m.Seq = seq
	queue = append(queue, m)
	sortMutations(queue)
	if err := q.saveQueue(ctx, queue); err != nil {
		return domain.QueuedMutation{}, err
	}
	q.seq = seq

	logger.Debug("queue: enqueued %s %s (%s)", m.Operation, m.EntityKey(), m.ID)
	return m, nil
}

// HasPending reports whether any mutation is waiting for delivery.
func (q *MutationQueue) HasPending(ctx context.Context) (bool, error) {
	queue, err := q.Pending(ctx)
	if err != nil {
		return false, err
	}
	return len(queue) > 0, nil
}

// HasPendingFor reports whether a mutation for the entity is still queued.
func (q *MutationQueue) HasPendingFor(ctx context.Context, entityType, entityID string) (bool, error) {
	queue, err := q.Pending(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range queue {
		if m.EntityType == entityType && m.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

// Pending lists queued mutations in createdAt order.
func (q *MutationQueue) Pending(ctx context.Context) ([]domain.QueuedMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadQueue(ctx)
}

// DeadLetters lists dead-lettered mutations, oldest first.
func (q *MutationQueue) DeadLetters(ctx context.Context) ([]domain.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadDeadLetters(ctx)
}

// Flush delivers queued mutations. Concurrent calls share a single pass.
// An AuthRequired failure aborts the pass and returns domain.ErrAuthRequired.
func (q *MutationQueue) Flush(ctx context.Context) (domain.FlushResult, error) {
	return Coalesce(ctx, q.coalescer, flushCoalesced, q.flush)
}

// RetryDeadLetter moves a dead-lettered mutation back onto the queue with a
// fresh retry budget.
func (q *MutationQueue) RetryDeadLetter(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	dead, err := q.loadDeadLetters(ctx)
	if err != nil {
		return err
	}
	idx := deadLetterIndex(dead, id)
	if idx < 0 {
		return fmt.Errorf("dead letter %s: %w", id, domain.ErrNotFound)
	}
	m := dead[idx].Mutation
	m.RetryCount = 0
	m.NextAttemptAt = time.Time{}
	m.LastError = ""

	queue, err := q.loadQueue(ctx)
	if err != nil {
		return err
	}
	queue = append(queue, m)
	sortMutations(queue)
	if err := q.saveQueue(ctx, queue); err != nil {
		return err
	}
	return q.saveDeadLetters(ctx, append(dead[:idx], dead[idx+1:]...))
}

// DiscardDeadLetter drops a dead-lettered mutation permanently.
func (q *MutationQueue) DiscardDeadLetter(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	dead, err := q.loadDeadLetters(ctx)
	if err != nil {
		return err
	}
	idx := deadLetterIndex(dead, id)
	if idx < 0 {
		return fmt.Errorf("dead letter %s: %w", id, domain.ErrNotFound)
	}
	return q.saveDeadLetters(ctx, append(dead[:idx], dead[idx+1:]...))
}

// Close rejects further Enqueue calls. Persisted mutations stay queued.
func (q *MutationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// flushTally accumulates per-entity outcomes of one pass.
type flushTally struct {
	mu  sync.Mutex
	res domain.FlushResult
}

func (t *flushTally) add(fn func(r *domain.FlushResult)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.res)
}

func (q *MutationQueue) flush(ctx context.Context) (domain.FlushResult, error) {
	snapshot, err := q.Pending(ctx)
	if err != nil {
		return domain.FlushResult{}, fmt.Errorf("load queue: %w", err)
	}
	if len(snapshot) == 0 {
		return domain.FlushResult{}, nil
	}

	logger.Section("Flush")
	now := q.clock.Now()
	tally := &flushTally{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.opts.Concurrency)
	for _, group := range groupByEntity(snapshot) {
		group := group
		g.Go(func() error {
			return q.flushEntity(gctx, group, now, tally)
		})
	}
	passErr := g.Wait()

	remaining, err := q.Pending(context.WithoutCancel(ctx))
	if err != nil {
		return tally.res, fmt.Errorf("load queue: %w", err)
	}
	tally.res.Remaining = len(remaining)

	logger.Info("queue: flushed %d, retrying %d, dead-lettered %d, remaining %d",
		tally.res.Applied, tally.res.Retrying, tally.res.DeadLettered, tally.res.Remaining)
	return tally.res, passErr
}

// flushEntity applies one entity's mutations in order and stops at the first
// mutation that is not terminally resolved.
func (q *MutationQueue) flushEntity(ctx context.Context, group []domain.QueuedMutation, now time.Time, tally *flushTally) error {
	// Persistence runs detached from the pass context so that an aborted
	// pass still records outcomes it already received.
	store := context.WithoutCancel(ctx)

	for i, m := range group {
		rest := len(group) - i
		if m.NextAttemptAt.After(now) {
			tally.add(func(r *domain.FlushResult) { r.Deferred += rest })
			return nil
		}
		if err := ctx.Err(); err != nil {
			tally.add(func(r *domain.FlushResult) { r.Deferred += rest })
			return err
		}

		err := q.remote.Apply(ctx, m)
		if err == nil {
			if rmErr := q.remove(store, m.ID); rmErr != nil {
				return rmErr
			}
			tally.add(func(r *domain.FlushResult) { r.Applied++ })
			continue
		}

		if ctx.Err() != nil {
			// Cancelled mid-call: leave the mutation untouched for the next pass.
			tally.add(func(r *domain.FlushResult) { r.Deferred += rest })
			return ctx.Err()
		}

		kind := domain.KindOf(err)
		switch {
		case kind == domain.KindAuthRequired:
			tally.add(func(r *domain.FlushResult) { r.Deferred += rest })
			return fmt.Errorf("apply %s: %w", m.EntityKey(), domain.ErrAuthRequired)

		case !kind.Retryable():
			if dlErr := q.deadLetter(store, m, kind, err); dlErr != nil {
				return dlErr
			}
			tally.add(func(r *domain.FlushResult) { r.DeadLettered++ })
			continue

		default:
			m.RetryCount++
			m.LastError = err.Error()
			if m.RetryCount > q.opts.MaxRetries {
				if dlErr := q.deadLetter(store, m, kind, err); dlErr != nil {
					return dlErr
				}
				tally.add(func(r *domain.FlushResult) { r.DeadLettered++ })
				continue
			}
			delay := domain.RetryDelay(err, q.opts.BaseDelay, q.opts.MaxDelay, m.RetryCount-1)
			m.NextAttemptAt = q.clock.Now().Add(delay)
			if upErr := q.update(store, m); upErr != nil {
				return upErr
			}
			logger.Debug("queue: %s %s failed (%s), retry %d in %s", m.Operation, m.EntityKey(), kind, m.RetryCount, delay)
			tally.add(func(r *domain.FlushResult) {
				r.Retrying++
				r.Deferred += rest - 1
			})
			return nil
		}
	}
	return nil
}

func (q *MutationQueue) remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue, err := q.loadQueue(ctx)
	if err != nil {
		return err
	}
	if idx := mutationIndex(queue, id); idx >= 0 {
		queue = append(queue[:idx], queue[idx+1:]...)
	}
	return q.saveQueue(ctx, queue)
}

func (q *MutationQueue) update(ctx context.Context, m domain.QueuedMutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue, err := q.loadQueue(ctx)
	if err != nil {
		return err
	}
	idx := mutationIndex(queue, m.ID)
	if idx < 0 {
		return nil
	}
	queue[idx] = m
	return q.saveQueue(ctx, queue)
}

func (q *MutationQueue) deadLetter(ctx context.Context, m domain.QueuedMutation, kind domain.ErrorKind, cause error) error {
	dl := domain.DeadLetter{
		Mutation: m,
		Kind:     kind,
		Reason:   cause.Error(),
		FailedAt: q.clock.Now(),
	}

	q.mu.Lock()
	queue, err := q.loadQueue(ctx)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	dead, err := q.loadDeadLetters(ctx)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	if err := q.saveDeadLetters(ctx, append(dead, dl)); err != nil {
		q.mu.Unlock()
		return err
	}
	if idx := mutationIndex(queue, m.ID); idx >= 0 {
		queue = append(queue[:idx], queue[idx+1:]...)
	}
	err = q.saveQueue(ctx, queue)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	logger.Warn("queue: dead-lettered %s %s after %d retries (%s): %v", m.Operation, m.EntityKey(), m.RetryCount, kind, cause)
	if q.OnDeadLetter != nil {
		q.OnDeadLetter(dl)
	}
	return nil
}

func (q *MutationQueue) loadQueue(ctx context.Context) ([]domain.QueuedMutation, error) {
	var queue []domain.QueuedMutation
	if err := q.loadJSON(ctx, QueueKey, &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *MutationQueue) saveQueue(ctx context.Context, queue []domain.QueuedMutation) error {
	return q.saveJSON(ctx, QueueKey, queue)
}

func (q *MutationQueue) loadDeadLetters(ctx context.Context) ([]domain.DeadLetter, error) {
	var dead []domain.DeadLetter
	if err := q.loadJSON(ctx, DeadLetterKey, &dead); err != nil {
		return nil, err
	}
	return dead, nil
}

func (q *MutationQueue) saveDeadLetters(ctx context.Context, dead []domain.DeadLetter) error {
	return q.saveJSON(ctx, DeadLetterKey, dead)
}

func (q *MutationQueue) loadJSON(ctx context.Context, key string, v any) error {
	data, err := q.store.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (q *MutationQueue) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := q.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// nextSeqLocked returns the next submission number. The counter is seeded
// from the persisted queue and dead letters so it survives restarts.
func (q *MutationQueue) nextSeqLocked(ctx context.Context, queue []domain.QueuedMutation) (uint64, error) {
	if q.seq == 0 {
		dead, err := q.loadDeadLetters(ctx)
		if err != nil {
			return 0, err
		}
		for _, m := range queue {
			q.seq = max(q.seq, m.Seq)
		}
		for _, d := range dead {
			q.seq = max(q.seq, d.Mutation.Seq)
		}
	}
	return q.seq + 1, nil
}

// sortMutations orders by submission number. Wall-clock CreatedAt can step
// backwards, so it only orders records enqueued without one.
func sortMutations(queue []domain.QueuedMutation) {
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// groupByEntity splits a submission-ordered queue into per-entity runs,
// keeping the order of first appearance.
func groupByEntity(queue []domain.QueuedMutation) [][]domain.QueuedMutation {
	index := make(map[string]int)
	var groups [][]domain.QueuedMutation
	for _, m := range queue {
		key := m.EntityKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

func mutationIndex(queue []domain.QueuedMutation, id string) int {
	for i, m := range queue {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func deadLetterIndex(dead []domain.DeadLetter, id string) int {
	for i, d := range dead {
		if d.Mutation.ID == id {
			return i
		}
	}
	return -1
}
