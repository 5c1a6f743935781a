package db

import "embed"

// MigrationFS embeds the checkpoint-store SQL migrations from internal/db/migrations.
// Applied by the migrate runner at ingestor startup and by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
