// Package migrations embeds the SQL schema migrations so binaries and
// test bootstraps can apply them with goose without a copy of the source
// tree on disk.
package migrations

import "embed"

// FS holds the embedded migration files.
//
//go:embed *.sql
var FS embed.FS

// Dir is the path goose reads inside FS.
const Dir = "."
