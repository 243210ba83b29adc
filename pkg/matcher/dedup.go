package matcher

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/praetorian-inc/sigscan/pkg/types"
)

// DedupeMode controls how matches are deduplicated.
type DedupeMode int

const (
	// DedupeByLocation deduplicates by exact location (rule + image + anchor).
	// The same image scanned twice yields one match per anchor.
	DedupeByLocation DedupeMode = iota

	// DedupeByCaptures deduplicates by rule and captured addresses, ignoring
	// the anchor. Several anchors that resolve to the same targets (for
	// example every call site of one function) count once.
	DedupeByCaptures
)

// Deduplicator removes duplicate matches based on configurable criteria.
type Deduplicator struct {
	seen map[string]bool
	mode DedupeMode
}

// NewDeduplicator creates a new deduplicator with location-based deduplication.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		seen: make(map[string]bool),
		mode: DedupeByLocation,
	}
}

// NewCaptureDeduplicator creates a deduplicator keyed on captured addresses.
func NewCaptureDeduplicator() *Deduplicator {
	return &Deduplicator{
		seen: make(map[string]bool),
		mode: DedupeByCaptures,
	}
}

// SetMode changes the deduplication mode.
func (d *Deduplicator) SetMode(mode DedupeMode) {
	d.mode = mode
}

// IsDuplicate returns true if match was already seen.
func (d *Deduplicator) IsDuplicate(m *types.Match) bool {
	return d.seen[d.computeKey(m)]
}

// Add marks a match as seen.
func (d *Deduplicator) Add(m *types.Match) {
	d.seen[d.computeKey(m)] = true
}

// Reset clears the deduplicator for reuse.
func (d *Deduplicator) Reset() {
	clear(d.seen)
}

func (d *Deduplicator) computeKey(m *types.Match) string {
	switch d.mode {
	case DedupeByCaptures:
		h := sha256.New()
		h.Write([]byte(m.RuleID))
		h.Write([]byte{0})
		// Slot 0 is the anchor.
		var buf [8]byte
		for i, addr := range m.Addresses {
			if i == 0 {
				continue
			}
			binary.LittleEndian.PutUint64(buf[:], uint64(addr))
			h.Write(buf[:])
		}
		return hex.EncodeToString(h.Sum(nil))
	default:
		return m.StructuralID
	}
}
