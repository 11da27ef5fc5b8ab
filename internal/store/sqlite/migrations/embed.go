// Package migrations embeds the SQLite job store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
