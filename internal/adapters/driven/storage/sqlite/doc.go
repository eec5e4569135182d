// Package sqlite provides a SQLite-backed implementation of the durable
// driven ports.
//
// The adapter uses modernc.org/sqlite, a pure Go SQLite driver, so the
// binary cross-compiles without CGO. One database file serves:
//
//   - KVStore: the mutation queue, dead letters, persisted cache entries
//     and the stored credential
//   - SchedulerStore: scheduled task state and run history
//
// # Schema
//
// Tables are created by versioned migrations embedded from migrations/.
// Files are named NNN_description.up.sql and applied in order; applied
// versions are recorded in schema_migrations.
//
// # Data Location
//
// By default the database lives at ~/.propops/data/state.db.
//
// # Thread Safety
//
// All operations are safe for concurrent use. SQLite runs in WAL mode with
// a busy timeout; the store assumes a single writing process.
package sqlite
