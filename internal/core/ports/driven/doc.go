// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - KVStore: Durable storage for the mutation queue and cache entries
//   - RemoteClient: Remote data service with structured error kinds
//   - Clock: Time source with cancellable delayed callbacks
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - ChangeFeed: Push notifications. Without it, views refresh on demand only.
//   - CredentialRefresher: Token renewal. Without it, no refresh is scheduled.
//   - BookingProvider / BookingSink: External sync. Without them, sync is disabled.
//   - PayloadValidator: Schema checks on enqueue.
//   - SchedulerStore: Background task history.
package driven
