// Package migrations embeds the SQL migrations of the inbox schema.
package migrations

import "embed"

// Files holds every .sql file of this directory; they run in name order (001, 002, ...).
//
//go:embed *.sql
var Files embed.FS
