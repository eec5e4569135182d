// Package migrations holds the numbered schema files applied by the sqlite
// store, oldest first.
package migrations

import "embed"

// FS holds the NNN_name.up.sql and NNN_name.down.sql pairs.
//
//go:embed *.sql
var FS embed.FS
