package domain

import (
	"encoding/json"
	"time"
)

// SyncState is the lifecycle state of the external provider sync.
type SyncState string

const (
	SyncIdle         SyncState = "idle"
	SyncRunning      SyncState = "running"
	SyncCountingDown SyncState = "counting_down"
)

// SyncJobProgress tracks one provider sync run. Recreated per run.
type SyncJobProgress struct {
	TotalUnits     int
	CompletedUnits int
	UnitsPerSecond float64
	StartedAt      time.Time
}

// Fraction returns completed/total in [0,1]. Zero when total is unknown.
func (p SyncJobProgress) Fraction() float64 {
	if p.TotalUnits <= 0 {
		return 0
	}
	f := float64(p.CompletedUnits) / float64(p.TotalUnits)
	if f > 1 {
		return 1
	}
	return f
}

// EstimatedTimeLeft extrapolates the remaining time from the observed rate.
// Zero when no rate has been observed yet.
func (p SyncJobProgress) EstimatedTimeLeft() time.Duration {
	if p.UnitsPerSecond <= 0 {
		return 0
	}
	remaining := p.TotalUnits - p.CompletedUnits
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / p.UnitsPerSecond * float64(time.Second))
}

// SyncSummary is emitted when a run completes successfully.
type SyncSummary struct {
	RunID    string
	Synced   int
	Pages    int
	Duration time.Duration
}

// SyncProgressEvent is delivered to progress subscribers.
type SyncProgressEvent struct {
	RunID    string
	State    SyncState
	Progress SyncJobProgress

	// EstimatedTimeLeft mirrors Progress.EstimatedTimeLeft at emission time.
	EstimatedTimeLeft time.Duration

	// Summary is set on the final event of a successful run.
	Summary *SyncSummary

	// Err is set on the event that ends a failed run.
	Err error

	// RetryIn is the remaining countdown while State is SyncCountingDown.
	RetryIn time.Duration
}

// SyncStatus is a snapshot of the orchestrator.
type SyncStatus struct {
	State       SyncState
	RunID       string
	Progress    SyncJobProgress
	LastSummary *SyncSummary
	LastError   error
	RetryIn     time.Duration
}

// Booking is a provider record copied into the remote data service.
// Its shape beyond the identifier is opaque to the resilience layer.
type Booking struct {
	ExternalID string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// BookingPage is one page fetched from the booking provider.
type BookingPage struct {
	Bookings   []Booking `json:"bookings"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
