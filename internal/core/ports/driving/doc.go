// Package driving holds the ports the CLI and TUI call into: the profile
// cache, mutation queue, change subscriptions, sync orchestrator, credential
// management and the background scheduler. The services package implements
// them.
package driving
