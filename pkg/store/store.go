package store

import (
	"github.com/praetorian-inc/sigscan/pkg/types"
)

// Store provides persistence for scan results.
// Compiled signatures are never stored; rules are recorded by their text.
type Store interface {
	// AddImage records a scanned image.
	AddImage(id types.ImageID, size int64) error

	// AddTarget records where an image came from.
	AddTarget(id types.ImageID, target types.Target) error

	// AddRule records a rule that produced matches.
	AddRule(r *types.Rule) error

	// AddMatch stores a match record. Duplicate structural IDs are ignored.
	AddMatch(m *types.Match) error

	// GetMatches retrieves matches for an image.
	GetMatches(id types.ImageID) ([]*types.Match, error)

	// GetAllMatches retrieves all matches in insertion order.
	GetAllMatches() ([]*types.Match, error)

	// GetRules retrieves every recorded rule.
	GetRules() ([]*types.Rule, error)

	// GetTarget retrieves the target recorded for an image.
	GetTarget(id types.ImageID) (types.Target, error)

	// ImageExists checks if an image has already been scanned.
	ImageExists(id types.ImageID) (bool, error)

	// Close closes the database connection.
	Close() error
}

// Config for store initialization.
type Config struct {
	// Path is the database file path.
	// Use ":memory:" for an in-process store (useful for testing).
	Path string
}
