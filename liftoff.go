// Package liftoff embeds assets shared by the binaries.
package liftoff

import "embed"

// MigrationsFS holds the SQL migrations applied at start-up.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
