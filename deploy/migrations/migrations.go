// Package migrations exposes the SQL migration files for the MySQL-backed
// discovery index.
package migrations

import "embed"

// Files holds all SQL migration files.
//
//go:embed *.sql
var Files embed.FS
