// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// FS holds every migration file, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
