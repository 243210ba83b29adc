//go:build !cgo

package store

import (
	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver backing SQLiteStore.
const driverName = "sqlite"

// New creates a store for builds without CGO.
// File paths use the pure Go modernc.org/sqlite driver.
func New(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("path is required")
	}

	if cfg.Path == ":memory:" {
		return NewMemory(), nil
	}

	return NewSQLite(cfg.Path)
}
