// Package messages defines Bubbletea message types for the terminal views.
package messages

import (
	"github.com/custodia-labs/propops/internal/core/domain"
)

// SyncStarted is sent when the orchestrator accepted a run.
type SyncStarted struct {
	RunID string
}

// SyncStartFailed is sent when the orchestrator refused to start, e.g.
// because a run is active or the failure countdown is still running.
type SyncStartFailed struct {
	Err error
}

// SyncProgress carries one orchestrator progress event.
type SyncProgress struct {
	Event domain.SyncProgressEvent
}
