// Package signature compiles the signature DSL into an immutable command program.
//
// A signature describes a byte pattern with wildcards, skips, captures and
// indirection:
//
//	48 8B 05 $ { \ "MZ" }   # mov rax, [rip+disp32]; follow it and capture
//	(E8 | E9) $             # call or jmp rel32
//	48 83 EC [1-4] C3       # skip one to four bytes
//
// The compiled Sequence is executed by package matcher.
package signature

import (
	"fmt"
	"strings"
)

// Command is one match operation. The set of commands is closed: ByteSequence,
// Skip, SkipRange, SkipUnknown, Save, Load, Displacement, Pointer, OneOf and Follow.
type Command interface {
	fmt.Stringer
	command()
}

// Sequence is an ordered list of commands. Subpatterns, follow blocks and
// alternatives are each an independent Sequence.
type Sequence []Command

// ByteSequence matches literal bytes at the cursor.
type ByteSequence struct {
	Bytes []byte
}

// Skip advances the cursor by Size bytes.
type Skip struct {
	Size int
}

// SkipRange tries every skip from Min to Max inclusive, smallest first.
type SkipRange struct {
	Min int
	Max int
}

// SkipUnknown tries every position up to the end of the region, stopping at
// the sentinel byte.
type SkipUnknown struct{}

// Save records the cursor in result slot Index.
type Save struct {
	Index int
}

// Load moves the cursor to Value.
//
// Value is the parser's slot counter at the point of the '/' token, not an
// address captured by a Save.
type Load struct {
	Value int64
}

// Displacement reads a signed Width-byte offset at the cursor and jumps
// relative to the end of the offset.
type Displacement struct {
	Width int
}

// Pointer reads an 8-byte absolute address at the cursor and jumps to it.
type Pointer struct{}

// OneOf matches the first alternative for which both the alternative and the
// rest of the enclosing sequence match.
type OneOf struct {
	Alternatives []Sequence
}

// Follow requires Commands to match at the cursor without moving it.
type Follow struct {
	Commands Sequence
}

func (ByteSequence) command() {}
func (Skip) command()         {}
func (SkipRange) command()    {}
func (SkipUnknown) command()  {}
func (Save) command()         {}
func (Load) command()         {}
func (Displacement) command() {}
func (Pointer) command()      {}
func (OneOf) command()        {}
func (Follow) command()       {}

// NewByteSequence copies b into a new ByteSequence.
func NewByteSequence(b []byte) ByteSequence {
	return ByteSequence{Bytes: append([]byte(nil), b...)}
}

func (c ByteSequence) String() string {
	parts := make([]string, len(c.Bytes))
	for i, b := range c.Bytes {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

func (c Skip) String() string {
	if c.Size == 1 {
		return "??"
	}
	return fmt.Sprintf("[%d]", c.Size)
}

func (c SkipRange) String() string { return fmt.Sprintf("[%d-%d]", c.Min, c.Max) }
func (SkipUnknown) String() string { return "@" }
func (c Save) String() string      { return fmt.Sprintf(`\%d`, c.Index) }
func (c Load) String() string      { return fmt.Sprintf("/%d", c.Value) }
func (Pointer) String() string     { return "*" }

func (c Displacement) String() string {
	switch c.Width {
	case 1:
		return "%"
	case 2:
		return "&"
	case 4:
		return "$"
	default:
		return fmt.Sprintf("disp%d", c.Width)
	}
}

func (c OneOf) String() string {
	parts := make([]string, len(c.Alternatives))
	for i, alt := range c.Alternatives {
		parts[i] = alt.String()
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

func (c Follow) String() string { return "{" + c.Commands.String() + "}" }

// String renders the sequence in DSL notation. Save slots are shown with
// their index, which the DSL itself does not spell out.
func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// Depth returns the nesting depth of the sequence: 1 for a flat sequence,
// plus one for each level of OneOf or Follow.
func (s Sequence) Depth() int {
	deepest := 0
	for _, c := range s {
		var d int
		switch v := c.(type) {
		case OneOf:
			for _, alt := range v.Alternatives {
				if ad := alt.Depth(); ad > d {
					d = ad
				}
			}
		case Follow:
			d = v.Commands.Depth()
		}
		if d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}
