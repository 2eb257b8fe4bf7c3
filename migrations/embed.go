// Package migrations embeds the PostgreSQL schema migrations.
package migrations

import "embed"

// FS holds the migration SQL files.
//
//go:embed postgres/*.sql
var FS embed.FS
