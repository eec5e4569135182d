package domain

import "time"

// maxTaskBackoff caps a failing task's delay at this multiple of its interval.
const maxTaskBackoff = 8

// ScheduledTask is a recurring background job and its persisted schedule.
type ScheduledTask struct {
	ID   string
	Name string

	// Interval is the delay between successful runs.
	Interval time.Duration

	LastRun     time.Time
	NextRun     time.Time
	LastSuccess time.Time

	// LastError is the message of the most recent failure, cleared on success.
	LastError string

	// Failures counts consecutive failed runs.
	Failures int

	Enabled bool
}

// NextDelay is the wait before the next run. Consecutive failures double
// it, up to maxTaskBackoff intervals.
func (t ScheduledTask) NextDelay() time.Duration {
	if t.Failures <= 0 {
		return t.Interval
	}
	return Backoff(t.Interval, maxTaskBackoff*t.Interval, t.Failures)
}

// TaskResult is the outcome of one task run.
type TaskResult struct {
	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool

	// Error and ErrorKind describe a failed run.
	Error     string
	ErrorKind ErrorKind

	// ItemsProcessed counts mutations applied or bookings synced.
	ItemsProcessed int

	// Detail is a one-line summary, e.g. the flush tallies or the sync run ID.
	Detail string
}

// Duration returns how long the run took.
func (r TaskResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Task IDs for built-in tasks.
const (
	TaskIDQueueFlush   = "queue-flush"
	TaskIDProviderSync = "provider-sync"
)

// TaskIntervals derives the scheduler task table from configuration.
// Tasks with a zero interval are disabled.
func (c Config) TaskIntervals() map[string]time.Duration {
	return map[string]time.Duration{
		TaskIDQueueFlush:   c.Queue.FlushInterval.Std(),
		TaskIDProviderSync: c.Scheduler.SyncInterval.Std(),
	}
}
