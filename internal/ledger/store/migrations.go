package store

import "embed"

// Migrations holds the goose migrations for the Postgres ledger schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS
