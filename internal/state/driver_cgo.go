//go:build !purego

package state

// Driver used: github.com/mattn/go-sqlite3 (requires CGO_ENABLED=1).

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver used by SQLiteStore.
	DriverName = "sqlite3"
	// BuildMode describes the current build configuration.
	BuildMode = "cgo"
)
