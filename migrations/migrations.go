// Package migrations embeds the SQL schema for the scheduling database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
