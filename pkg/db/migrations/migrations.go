package migrations

import "embed"

// Files holds the SQL migrations applied by db.Migrate.
//
//go:embed *.sql
var Files embed.FS
