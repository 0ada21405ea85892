// Package db holds the embedded SQL migrations for the Postgres message store.
package db

import "embed"

// Schema is the Postgres schema the migrations create and the message store defaults to.
const Schema = "courier"

// MigrationFS embeds SQL migration files from cmd/internal/db/migrations.
// Used by the migrate runner ("courier migrate") and by store integration tests.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
