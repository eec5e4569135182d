package domain

import (
	"fmt"
	"time"
)

// Operation is the kind of write a queued mutation performs.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether the operation is one of the known kinds.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// ParseOperation converts user input to an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, s)
	}
	return op, nil
}

// QueuedMutation is a write accepted locally while disconnected (or after a
// failed online write) that still has to reach the remote data service.
type QueuedMutation struct {
	// ID uniquely identifies the mutation. Doubles as the idempotency key.
	ID string `json:"id"`

	// EntityType is the business entity kind (e.g. "task", "booking").
	EntityType string `json:"entity_type"`

	// EntityID identifies the entity within its type.
	EntityID string `json:"entity_id"`

	// Operation is create, update or delete.
	Operation Operation `json:"operation"`

	// Payload is the opaque request body.
	Payload []byte `json:"payload,omitempty"`

	// Seq is the submission number assigned by the queue. It orders
	// mutations; CreatedAt only breaks ties for records without one.
	Seq uint64 `json:"seq,omitempty"`

	// CreatedAt is when the write was accepted.
	CreatedAt time.Time `json:"created_at"`

	// RetryCount counts failed delivery attempts.
	RetryCount int `json:"retry_count"`

	// NextAttemptAt holds back delivery until the backoff has elapsed.
	// Zero means deliver on the next flush pass.
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`

	// LastError is the message of the most recent failure.
	LastError string `json:"last_error,omitempty"`
}

// EntityKey groups mutations that must be applied in order.
func (m QueuedMutation) EntityKey() string {
	return m.EntityType + "/" + m.EntityID
}

// Validate checks the fields required before a mutation can be queued.
func (m QueuedMutation) Validate() error {
	if m.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidInput)
	}
	if m.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}
	if !m.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, m.Operation)
	}
	return nil
}

// DeadLetter is the terminal record of a mutation that will not be retried
// automatically. It needs a manual retry or discard.
type DeadLetter struct {
	Mutation QueuedMutation `json:"mutation"`

	// Kind is the classification of the final failure.
	Kind ErrorKind `json:"kind"`

	// Reason is the final error message.
	Reason string `json:"reason"`

	// FailedAt is when the mutation was dead-lettered.
	FailedAt time.Time `json:"failed_at"`
}

// FlushResult summarises one flush pass over the mutation queue.
type FlushResult struct {
	// Applied counts mutations acknowledged by the remote side.
	Applied int

	// Retrying counts mutations that failed and stay queued with a backoff.
	Retrying int

	// DeadLettered counts mutations moved to the dead-letter list.
	DeadLettered int

	// Deferred counts mutations not attempted because their entity was
	// blocked by an earlier mutation or their backoff had not elapsed.
	Deferred int

	// Remaining is the queue length after the pass.
	Remaining int
}

// MutationReceipt reports how a write was handled.
type MutationReceipt struct {
	Mutation QueuedMutation

	// Queued is true when the write was accepted optimistically and will be
	// delivered by a later flush.
	Queued bool
}
