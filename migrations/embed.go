// Package migrations embeds the SQL schema so binaries can migrate without
// shipping the files alongside them.
package migrations

import "embed"

// FS holds the sql/*.sql migrations.
//
//go:embed sql/*.sql
var FS embed.FS
