package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates a provider sync is already running.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrSyncCoolingDown indicates a provider sync failed recently and the
	// retry countdown has not elapsed yet.
	ErrSyncCoolingDown = errors.New("sync cooling down after failure")

	// ErrAuthRequired indicates the remote side rejected the credential.
	// It is handed to session handling for re-authentication.
	ErrAuthRequired = errors.New("authentication required")

	// ErrDisposed indicates the owning session has been torn down.
	ErrDisposed = errors.New("session disposed")

	// ErrQueueClosed indicates the mutation queue no longer accepts work.
	ErrQueueClosed = errors.New("mutation queue closed")

	// ErrNoCredential indicates no stored credential is available to refresh.
	ErrNoCredential = errors.New("no credential stored")
)
