package types

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// Rule is a named signature with metadata.
type Rule struct {
	ID               string   // e.g., "x64.prologue.sub_rsp"
	Name             string   // human-readable name
	Pattern          string   // signature DSL text
	BaseSlot         int      // first slot handed out to explicit saves
	StructuralID     string   // SHA-1 of normalized pattern + base slot (computed)
	Description      string   // optional
	Examples         []string // hex byte strings that must match at offset 0
	NegativeExamples []string // hex byte strings that must not match anywhere
	References       []string // documentation URLs
	Categories       []string // classification tags
}

// ComputeStructuralID hashes the pattern with comments and whitespace removed,
// so reformatting a signature does not change its identity.
func (r *Rule) ComputeStructuralID() string {
	h := sha1.New()
	h.Write([]byte(NormalizePattern(r.Pattern)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(r.BaseSlot)))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizePattern strips '#' comments and whitespace outside string literals
// and upper-cases hex digits there.
func NormalizePattern(pattern string) string {
	var b strings.Builder
	inString := false
	inComment := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
			}
		case inString:
			b.WriteByte(c)
			if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '#':
			inComment = true
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		case c >= 'a' && c <= 'f':
			b.WriteByte(c - 'a' + 'A')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Ruleset groups rules together.
type Ruleset struct {
	ID          string
	Name        string
	Description string
	RuleIDs     []string
}
