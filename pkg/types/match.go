package types

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// Match is a single signature hit in an image.
type Match struct {
	ImageID      ImageID
	StructuralID string    // SHA-1(rule_structural_id + '\0' + image_id + '\0' + anchor)
	RuleID       string    // e.g., "x64.prologue.sub_rsp"
	RuleName     string    // e.g., "x64 prologue: sub rsp, imm8"
	Target       Target    `json:"-"`
	Addresses    []Address // capture vector indexed by save slot; slot 0 is the anchor
	Offset       int64     // anchor offset from the target base, -1 if below it
}

// Anchor returns the address captured in slot 0, or 0 for an empty vector.
func (m *Match) Anchor() Address {
	if len(m.Addresses) == 0 {
		return 0
	}
	return m.Addresses[0]
}

// ComputeStructuralID computes location-based unique ID.
// Format: SHA-1(rule_structural_id + '\0' + image_id + '\0' + anchor)
func (m *Match) ComputeStructuralID(ruleStructuralID string) string {
	h := sha1.New()

	h.Write([]byte(ruleStructuralID))
	h.Write([]byte{0}) // null byte separator

	h.Write(m.ImageID[:])
	h.Write([]byte{0})

	h.Write([]byte(fmt.Sprintf("%d", uint64(m.Anchor()))))

	return hex.EncodeToString(h.Sum(nil))
}
