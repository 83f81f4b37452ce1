// Package migrations embeds the SQL migration files for the sqlite row source.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
