package db

import "embed"

// migrationFS embeds the SQL migrations so no files are needed on disk
// at runtime.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
