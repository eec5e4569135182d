package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
	"github.com/custodia-labs/propops/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// historyRetention is the number of results kept per task.
const historyRetention = 100

// Scheduler runs the periodic queue flush and provider sync tasks.
// Task state and results are persisted so the schedule survives restarts.
type Scheduler struct {
	config   domain.Config
	store    driven.SchedulerStore
	queue    driving.MutationQueue
	syncOrch driving.SyncOrchestrator
	clock    driven.Clock

	// checkInterval is how often due tasks are looked for.
	checkInterval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. queue and syncOrch may be nil, which
// disables the matching task.
func NewScheduler(
	config domain.Config,
	store driven.SchedulerStore,
	queue driving.MutationQueue,
	syncOrch driving.SyncOrchestrator,
	clock driven.Clock,
) *Scheduler {
	return &Scheduler{
		config:        config,
		store:         store,
		queue:         queue,
		syncOrch:      syncOrch,
		clock:         clock,
		checkInterval: time.Minute,
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if err := s.initialiseTasks(ctx); err != nil {
		logger.Warn("scheduler: failed to initialise tasks: %v", err)
	}

	return s.run(ctx, stopCh)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for running tasks to complete
	s.wg.Wait()

	return nil
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	intervals := s.config.TaskIntervals()

	if err := s.ensureTask(ctx, domain.TaskIDQueueFlush, "Queue Flush",
		intervals[domain.TaskIDQueueFlush], s.queue != nil); err != nil {
		return err
	}
	return s.ensureTask(ctx, domain.TaskIDProviderSync, "Provider Sync",
		intervals[domain.TaskIDProviderSync], s.syncOrch != nil)
}

// ensureTask creates or updates a task in the store. A zero interval
// disables the task.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, interval time.Duration, available bool) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	enabled := s.config.Scheduler.Enabled && available && interval > 0
	now := s.clock.Now()
	if task == nil {
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: interval,
			Enabled:  enabled,
			NextRun:  now.Add(interval),
		}
	} else {
		if task.Interval != interval {
			task.Interval = interval
			task.NextRun = now.Add(interval)
		}
		task.Enabled = enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}) error {
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("scheduler: failed to list tasks: %v", err)
		return
	}

	now := s.clock.Now()
	for i := range tasks {
		task := &tasks[i]
		if !task.Enabled {
			continue
		}
		if task.NextRun.IsZero() || !task.NextRun.After(now) {
			s.runTask(ctx, task)
		}
	}
}

// runTask executes a single task in the background. A failed run pushes
// the next attempt out with the task's backoff; a success resets it.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: s.clock.Now(),
		}

		var (
			out taskOutcome
			err error
		)
		switch task.ID {
		case domain.TaskIDQueueFlush:
			out, err = s.runQueueFlush(ctx)
		case domain.TaskIDProviderSync:
			out, err = s.runProviderSync(ctx)
		default:
			logger.Warn("scheduler: unknown task ID: %s", task.ID)
			return
		}

		result.EndedAt = s.clock.Now()
		result.ItemsProcessed = out.items
		result.Detail = out.detail
		if err != nil {
			result.Error = err.Error()
			result.ErrorKind = domain.KindOf(err)
			task.LastError = err.Error()
			task.Failures++
			logger.Warn("scheduler: task %s failed (%s, attempt %d): %v", task.ID, result.ErrorKind, task.Failures, err)
		} else {
			result.Success = true
			task.LastError = ""
			task.LastSuccess = result.EndedAt
			task.Failures = 0
		}

		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.NextDelay())

		if saveErr := s.store.SaveTask(ctx, task); saveErr != nil {
			logger.Warn("scheduler: failed to save task %s: %v", task.ID, saveErr)
		}
		if recordErr := s.store.RecordResult(ctx, result); recordErr != nil {
			logger.Warn("scheduler: failed to record result for %s: %v", task.ID, recordErr)
		}
		if pruneErr := s.store.PruneHistory(ctx, historyRetention); pruneErr != nil {
			logger.Warn("scheduler: failed to prune history: %v", pruneErr)
		}
	}()
}

// taskOutcome is what a task run reports besides its error.
type taskOutcome struct {
	items  int
	detail string
}

// runQueueFlush delivers queued mutations.
func (s *Scheduler) runQueueFlush(ctx context.Context) (taskOutcome, error) {
	if s.queue == nil {
		return taskOutcome{}, nil
	}
	res, err := s.queue.Flush(ctx)
	return taskOutcome{
		items: res.Applied,
		detail: fmt.Sprintf("applied %d, retrying %d, dead-lettered %d, deferred %d",
			res.Applied, res.Retrying, res.DeadLettered, res.Deferred),
	}, err
}

// runProviderSync starts a provider sync and waits for it to finish.
// A run that is already active or cooling down is not an error.
func (s *Scheduler) runProviderSync(ctx context.Context) (taskOutcome, error) {
	if s.syncOrch == nil {
		return taskOutcome{}, nil
	}

	done := make(chan domain.SyncProgressEvent, 4)
	unsubscribe := s.syncOrch.SubscribeProgress(func(e domain.SyncProgressEvent) {
		if e.Summary == nil && e.Err == nil {
			return
		}
		select {
		case done <- e:
		default:
		}
	})
	defer unsubscribe()

	runID, err := s.syncOrch.Start(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSyncInProgress) || errors.Is(err, domain.ErrSyncCoolingDown) {
			logger.Debug("scheduler: provider sync skipped: %v", err)
			return taskOutcome{detail: "skipped: " + err.Error()}, nil
		}
		return taskOutcome{}, err
	}

	for {
		select {
		case e := <-done:
			if e.RunID != runID {
				continue
			}
			if e.Err != nil {
				return taskOutcome{detail: "run " + runID}, e.Err
			}
			return taskOutcome{
				items:  e.Summary.Synced,
				detail: fmt.Sprintf("run %s, %d page(s)", runID, e.Summary.Pages),
			}, nil
		case <-ctx.Done():
			return taskOutcome{detail: "run " + runID}, ctx.Err()
		}
	}
}

// Tasks returns the persisted tasks ordered by ID.
func (s *Scheduler) Tasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// History returns up to limit recent results for a task, newest first.
func (s *Scheduler) History(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: history limit must be positive", domain.ErrInvalidInput)
	}
	return s.store.GetTaskHistory(ctx, taskID, limit)
}
