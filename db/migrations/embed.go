// Package dbmigrations exposes embedded SQL migrations for syncbridge binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into syncbridge binaries.
//
//go:embed *.sql
var Files embed.FS
