package signature

import (
	"strconv"
	"strings"
)

// Parse compiles signature text into a command sequence.
//
// baseSlot is the first index handed out to explicit '\' saves. A top-level
// parse prepends Save{0}, which captures the anchor address without advancing
// the slot counter. Unrecognized characters are ignored, so signatures may be
// freely spaced and annotated.
func Parse(text string, baseSlot int, topLevel bool) (Sequence, error) {
	seq, _, err := parseBlock(text, 0, baseSlot, topLevel)
	return seq, err
}

// ParseSignature parses a top-level signature with slots starting at 0.
func ParseSignature(text string) (Sequence, error) {
	return Parse(text, 0, true)
}

// MustParse is like ParseSignature but panics on error. For builtin and test
// signatures only.
func MustParse(text string) Sequence {
	seq, err := ParseSignature(text)
	if err != nil {
		panic(err)
	}
	return seq
}

// parser holds the cursor for one block of signature text.
type parser struct {
	text   string
	offset int // offset of text[0] in the outermost signature, for errors
	pos    int
	slot   int
}

// parseBlock parses text and returns the slot counter reached at its end.
// Callers decide whether that counter flows back into the enclosing block.
func parseBlock(text string, offset, baseSlot int, topLevel bool) (Sequence, int, error) {
	p := &parser{text: text, offset: offset, slot: baseSlot}
	seq, err := p.parse(topLevel)
	if err != nil {
		return nil, p.slot, err
	}
	return seq, p.slot, nil
}

func (p *parser) parse(topLevel bool) (Sequence, error) {
	seq := Sequence{}
	if topLevel {
		seq = append(seq, Save{Index: 0})
	}

	for p.pos < len(p.text) {
		c := p.text[p.pos]

		if isHexDigit(c) {
			b, err := p.hexByte()
			if err != nil {
				return nil, err
			}
			seq = appendByte(seq, b)
			continue
		}

		switch c {
		case '#':
			for p.pos < len(p.text) && p.text[p.pos] != '\n' {
				p.pos++
			}

		case '%':
			seq = append(seq, Displacement{Width: 1})
			p.pos++
		case '&':
			seq = append(seq, Displacement{Width: 2})
			p.pos++
		case '$':
			seq = append(seq, Displacement{Width: 4})
			p.pos++
		case '*':
			seq = append(seq, Pointer{})
			p.pos++

		case '{':
			inner, start, err := p.block('{', '}')
			if err != nil {
				return nil, err
			}
			// Slots allocated inside the block are not visible to the
			// enclosing sequence; numbering continues from p.slot.
			nested, _, err := parseBlock(inner, p.offset+start, p.slot, false)
			if err != nil {
				return nil, err
			}
			seq = append(seq, Follow{Commands: nested})

		case '(':
			inner, start, err := p.block('(', ')')
			if err != nil {
				return nil, err
			}
			alts, err := p.alternatives(inner, p.offset+start)
			if err != nil {
				return nil, err
			}
			seq = append(seq, OneOf{Alternatives: alts})

		case '?':
			if p.pos+1 >= len(p.text) || p.text[p.pos+1] != '?' {
				return nil, malformed("?", p.offset+p.pos, `wildcard must be written "??"`)
			}
			seq = append(seq, Skip{Size: 1})
			p.pos += 2

		case '[':
			at := p.offset + p.pos
			inner, _, err := p.block('[', ']')
			if err != nil {
				return nil, err
			}
			cmd, err := parseSkip(inner, at)
			if err != nil {
				return nil, err
			}
			seq = append(seq, cmd)

		case '@':
			seq = append(seq, SkipUnknown{})
			p.pos++

		case '\\':
			seq = append(seq, Save{Index: p.slot})
			p.slot++
			p.pos++
		case '/':
			seq = append(seq, Load{Value: int64(p.slot)})
			p.pos++

		case '"':
			end := strings.IndexByte(p.text[p.pos+1:], '"')
			if end < 0 {
				return nil, malformed(`"text"`, p.offset+p.pos, "unterminated string literal")
			}
			str := p.text[p.pos+1 : p.pos+1+end]
			seq = append(seq, NewByteSequence([]byte(str)))
			p.pos += end + 2

		default:
			p.pos++
		}
	}

	return seq, nil
}

// hexByte consumes two hex digits.
func (p *parser) hexByte() (byte, error) {
	if p.pos+1 >= len(p.text) || !isHexDigit(p.text[p.pos+1]) {
		return 0, malformed("byte", p.offset+p.pos, "expected two hex digits")
	}
	v, err := strconv.ParseUint(p.text[p.pos:p.pos+2], 16, 8)
	if err != nil {
		return 0, malformed("byte", p.offset+p.pos, "%v", err)
	}
	p.pos += 2
	return byte(v), nil
}

// block consumes a balanced open...close group starting at the cursor and
// returns its contents with their start index in p.text.
func (p *parser) block(open, closer byte) (string, int, error) {
	start := p.pos
	depth := 0
	for i := start; i < len(p.text); i++ {
		switch p.text[i] {
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				p.pos = i + 1
				return p.text[start+1 : i], start + 1, nil
			}
		}
	}
	return "", 0, malformed(string(open)+"..."+string(closer), p.offset+start, "unterminated %q", open)
}

// alternatives splits on every '|' in inner. A '|' inside a nested group also
// splits, so alternatives cannot themselves contain alternations.
func (p *parser) alternatives(inner string, offset int) ([]Sequence, error) {
	parts := strings.Split(inner, "|")
	alts := make([]Sequence, 0, len(parts))
	at := offset
	for _, part := range parts {
		alt, _, err := parseBlock(part, at, p.slot, false)
		if err != nil {
			return nil, err
		}
		alts = append(alts, alt)
		at += len(part) + 1
	}
	return alts, nil
}

func parseSkip(inner string, offset int) (Command, error) {
	if !strings.Contains(inner, "-") {
		size, err := strconv.Atoi(strings.TrimSpace(inner))
		if err != nil {
			return nil, malformed("[N]", offset, "invalid skip size %q", inner)
		}
		if size < 0 {
			return nil, malformed("[N]", offset, "negative skip size %d", size)
		}
		return Skip{Size: size}, nil
	}

	parts := strings.Split(inner, "-")
	if len(parts) != 2 {
		return nil, malformed("[min-max]", offset, "expected exactly one '-' in %q", inner)
	}
	lo, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, malformed("[min-max]", offset, "invalid minimum %q", parts[0])
	}
	hi, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, malformed("[min-max]", offset, "invalid maximum %q", parts[1])
	}
	if lo > hi {
		return nil, malformed("[min-max]", offset, "minimum %d exceeds maximum %d", lo, hi)
	}
	return SkipRange{Min: lo, Max: hi}, nil
}

// appendByte extends a trailing ByteSequence or starts a new one. The
// previous command is replaced rather than mutated.
func appendByte(seq Sequence, b byte) Sequence {
	if n := len(seq); n > 0 {
		if last, ok := seq[n-1].(ByteSequence); ok {
			merged := make([]byte, len(last.Bytes), len(last.Bytes)+1)
			copy(merged, last.Bytes)
			seq[n-1] = ByteSequence{Bytes: append(merged, b)}
			return seq
		}
	}
	return append(seq, ByteSequence{Bytes: []byte{b}})
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
