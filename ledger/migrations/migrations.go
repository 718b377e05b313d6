// Package migrations embeds the SQLite ledger schema for goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
