// Package migrations embeds the goose SQL migrations applied to the
// state store at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
