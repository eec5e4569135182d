// Package memory provides in-memory implementations of the storage ports.
// State is lost when the process exits; the stores back tests and the
// --ephemeral CLI mode.
package memory
