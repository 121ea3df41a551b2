// Package migrations embeds the SQL schema migrations for nido.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
