//go:build cgo

package store

import (
	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver backing SQLiteStore.
const driverName = "sqlite3"

// New creates a store.
// For ":memory:" paths, returns MemoryStore.
// For file paths, returns SQLite backed by mattn/go-sqlite3.
func New(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("path is required")
	}

	if cfg.Path == ":memory:" {
		return NewMemory(), nil
	}

	return NewSQLite(cfg.Path)
}
