// Package migrations embeds the schema migration files for the sqlite
// driver so they ship inside the consuming binary.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
