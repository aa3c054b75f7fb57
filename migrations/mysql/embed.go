// Package mysql embeds the SQL migrations for the MySQL schema.
package mysql

import "embed"

// FS contains the ordered migration files.
//
//go:embed *.sql
var FS embed.FS
