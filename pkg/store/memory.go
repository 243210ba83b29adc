package store

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/praetorian-inc/sigscan/pkg/types"
)

// ErrTargetNotFound is returned by GetTarget for images without a target.
var ErrTargetNotFound = errors.New("target not found")

// MemoryStore implements Store using in-memory data structures.
// No CGO dependency required.
type MemoryStore struct {
	mu      sync.RWMutex
	images  map[types.ImageID]int64
	targets map[types.ImageID]types.Target
	rules   []*types.Rule
	ruleIDs map[string]bool
	matches []*types.Match
	seen    map[string]bool // match structural IDs
}

// NewMemory creates a new in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		images:  make(map[types.ImageID]int64),
		targets: make(map[types.ImageID]types.Target),
		ruleIDs: make(map[string]bool),
		seen:    make(map[string]bool),
	}
}

// AddImage stores an image record. Repeated calls are ignored.
func (m *MemoryStore) AddImage(id types.ImageID, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.images[id]; !exists {
		m.images[id] = size
	}
	return nil
}

// AddTarget associates a target with an image. The latest target wins.
func (m *MemoryStore) AddTarget(id types.ImageID, target types.Target) error {
	if target == nil {
		return errors.New("target is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.targets[id] = target
	return nil
}

// AddRule stores a rule. Repeated IDs are ignored.
func (m *MemoryStore) AddRule(r *types.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ruleIDs[r.ID] {
		return nil
	}
	m.ruleIDs[r.ID] = true
	m.rules = append(m.rules, r)
	return nil
}

// AddMatch stores a match record.
func (m *MemoryStore) AddMatch(match *types.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[match.StructuralID] {
		return nil
	}
	m.seen[match.StructuralID] = true
	m.matches = append(m.matches, match)
	return nil
}

// GetMatches retrieves matches for an image.
func (m *MemoryStore) GetMatches(id types.ImageID) ([]*types.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*types.Match{}
	for _, match := range m.matches {
		if match.ImageID == id {
			result = append(result, match)
		}
	}
	return result, nil
}

// GetAllMatches retrieves all matches.
func (m *MemoryStore) GetAllMatches() ([]*types.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid external modifications
	result := make([]*types.Match, len(m.matches))
	copy(result, m.matches)
	return result, nil
}

// GetRules retrieves every stored rule in insertion order.
func (m *MemoryStore) GetRules() ([]*types.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*types.Rule, len(m.rules))
	copy(result, m.rules)
	return result, nil
}

// GetTarget retrieves the target of an image.
func (m *MemoryStore) GetTarget(id types.ImageID) (types.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.targets[id]
	if !ok {
		return nil, errors.Wrapf(ErrTargetNotFound, "image %s", id)
	}
	return t, nil
}

// ImageExists checks if an image has already been scanned.
func (m *MemoryStore) ImageExists(id types.ImageID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.images[id]
	return exists, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
