package domain

import "time"

// ChangeEvent is a push notification that something on a channel changed.
// Events carry no state: the subscriber refreshes to read the latest data.
type ChangeEvent struct {
	Channel    string    `json:"channel"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Operation  Operation `json:"operation,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// DebounceState is the state of a per-channel change debouncer.
type DebounceState string

const (
	DebounceIdle       DebounceState = "idle"
	DebounceScheduled  DebounceState = "scheduled"
	DebounceRefreshing DebounceState = "refreshing"
)

// SubscriptionState is the observable state of one change subscription.
type SubscriptionState struct {
	ChannelKey    string
	State         DebounceState
	LastRefreshAt time.Time
	BackoffUntil  time.Time

	// Pending reports whether a refresh timer is armed.
	Pending bool

	// Refreshes counts refreshes actually performed.
	Refreshes int

	// Dropped counts events coalesced into an armed timer or a running refresh.
	Dropped int
}
