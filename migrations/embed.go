// Package migrations holds the PostgreSQL schema as ordered SQL files,
// embedded so the server and the sweep CLI migrate from any directory.
package migrations

import "embed"

// FS contains every *.sql file here; storage.RunMigrations applies them in
// name order.
//
//go:embed *.sql
var FS embed.FS
