package matcher

import (
	"bytes"
	"context"

	"github.com/praetorian-inc/sigscan/pkg/memory"
	"github.com/praetorian-inc/sigscan/pkg/signature"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

// sentinel stops SkipUnknown. It is the int3 padding compilers place
// between functions.
const sentinel = 0xCC

// results is a capture vector. It is never modified in place once shared:
// with returns a new vector, so choice points keep valid snapshots.
type results []types.Address

func (r results) with(idx int, v types.Address) results {
	n := len(r)
	if idx >= n {
		n = idx + 1
	}
	out := make(results, n)
	copy(out, r)
	out[idx] = v
	return out
}

// choice is a pending alternative within one sequence.
type choice struct {
	ip   int           // index of the choice command
	pos  types.Address // cursor when the command was reached
	res  results       // captures when the command was reached
	next int           // next skip offset, unknown-skip distance or branch index
}

// exec is the state of one scan. Cancellation and budget errors are sticky:
// once set, every run unwinds as a failure and the caller reports err.
type exec struct {
	ctx    context.Context
	region memory.Region
	start  types.Address
	end    types.Address
	budget int
	steps  int
	err    error
}

// check polls for cancellation.
func (e *exec) check() error {
	if e.err != nil {
		return e.err
	}
	select {
	case <-e.ctx.Done():
		e.err = e.ctx.Err()
	default:
	}
	return e.err
}

// step accounts for one choice-point resumption.
func (e *exec) step() bool {
	e.steps++
	if e.budget > 0 && e.steps > e.budget {
		e.err = ErrBudgetExceeded
		return false
	}
	return e.check() == nil
}

// run matches seq at pos. Choice points inside seq are kept on an explicit
// stack; native recursion only enters OneOf branches and Follow blocks. A
// nested run commits to its first success.
func (e *exec) run(seq signature.Sequence, pos types.Address, res results) (types.Address, results, bool) {
	var stack []choice
	ip := 0

	for {
		if ip == len(seq) {
			return pos, res, true
		}

		ok := true
		switch c := seq[ip].(type) {
		case signature.ByteSequence:
			ok = e.compare(pos, c.Bytes)
			pos += types.Address(len(c.Bytes))

		case signature.Skip:
			pos, ok = addOffset(pos, int64(c.Size))

		case signature.Save:
			res = res.with(c.Index, pos)

		case signature.Load:
			pos = types.Address(c.Value)
			ok = c.Value >= 0 && e.inside(pos)

		case signature.Displacement:
			var v int64
			v, ok = e.readSigned(pos, c.Width)
			if ok {
				pos, ok = addOffset(pos, int64(c.Width)+v)
				ok = ok && e.inside(pos)
			}

		case signature.Pointer:
			var err error
			pos, err = memory.ReadPointer(e.region, pos)
			ok = err == nil && e.inside(pos)

		case signature.Follow:
			_, fres, matched := e.run(c.Commands, pos, res)
			ok = matched
			if ok {
				res = fres
			}

		case signature.SkipRange:
			stack = append(stack, choice{ip: ip, pos: pos, res: res, next: c.Min})
			ok = false
		case signature.SkipUnknown:
			stack = append(stack, choice{ip: ip, pos: pos, res: res})
			ok = false
		case signature.OneOf:
			stack = append(stack, choice{ip: ip, pos: pos, res: res})
			ok = false
		}

		if ok {
			ip++
			continue
		}

		// Resume the innermost choice point that still has a candidate.
		resumed := false
		for len(stack) > 0 && e.err == nil {
			if !e.step() {
				break
			}
			top := &stack[len(stack)-1]
			if p, r, more := e.advance(seq, top); more {
				pos, res, ip = p, r, top.ip+1
				resumed = true
				break
			}
			stack = stack[:len(stack)-1]
		}
		if !resumed {
			return 0, nil, false
		}
	}
}

// advance produces the next candidate of a choice point, reporting false
// when it is exhausted.
func (e *exec) advance(seq signature.Sequence, ch *choice) (types.Address, results, bool) {
	switch c := seq[ch.ip].(type) {
	case signature.SkipRange:
		if ch.next > c.Max {
			return 0, nil, false
		}
		p, ok := addOffset(ch.pos, int64(ch.next))
		ch.next++
		if !ok {
			return 0, nil, false
		}
		return p, ch.res, true

	case signature.SkipUnknown:
		p, ok := addOffset(ch.pos, int64(ch.next))
		if !ok || p < e.start || p >= e.end {
			return 0, nil, false
		}
		b, err := memory.ReadUint8(e.region, p)
		if err != nil || b == sentinel {
			return 0, nil, false
		}
		ch.next++
		return p, ch.res, true

	case signature.OneOf:
		for ch.next < len(c.Alternatives) {
			alt := c.Alternatives[ch.next]
			ch.next++
			p, r, ok := e.run(alt, ch.pos, ch.res)
			if e.err != nil {
				return 0, nil, false
			}
			if ok {
				return p, r, true
			}
		}
		return 0, nil, false
	}
	return 0, nil, false
}

func (e *exec) compare(pos types.Address, want []byte) bool {
	if len(want) == 0 {
		return true
	}
	got, err := e.region.ReadBytes(pos, len(want))
	return err == nil && bytes.Equal(got, want)
}

func (e *exec) readSigned(pos types.Address, width int) (int64, bool) {
	v, err := memory.ReadSigned(e.region, pos, width)
	return v, err == nil
}

func (e *exec) inside(p types.Address) bool {
	return p >= e.start && p < e.end
}

// addOffset returns pos+delta, reporting false if the result would leave
// the 64-bit address space.
func addOffset(pos types.Address, delta int64) (types.Address, bool) {
	if delta >= 0 {
		p := pos + types.Address(delta)
		return p, p >= pos
	}
	d := types.Address(-delta)
	if d > pos {
		return 0, false
	}
	return pos - d, true
}
