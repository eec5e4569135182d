// Package domain defines the core types for the propops resilience layer.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - ErrorKind / RemoteError: the structured error contract at the remote boundary
//   - CacheEntry: a positive or negative cached lookup result
//   - QueuedMutation / DeadLetter: offline writes awaiting remote persistence
//   - SyncJobProgress / SyncSummary: external provider sync reporting
//   - ChangeEvent / SubscriptionState: change feed notifications
//   - Config: runtime configuration with defaults
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
