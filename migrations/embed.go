// Package migrations embeds the goose SQL migrations for the namespace,
// setting, event, API key and audit log tables.
package migrations

import "embed"

// FS contains all goose migration SQL files.
//
//go:embed *.sql
var FS embed.FS
