// Package matcher executes compiled signatures against a memory region.
package matcher

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"

	"github.com/praetorian-inc/sigscan/pkg/memory"
	"github.com/praetorian-inc/sigscan/pkg/signature"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

var (
	// ErrNotFound is returned when no probe position matches.
	ErrNotFound = errors.New("signature not found")

	// ErrBudgetExceeded is returned when a scan resumes more choice points
	// than its step budget allows.
	ErrBudgetExceeded = errors.New("step budget exceeded")
)

// Matcher runs signatures over one region. It holds no per-scan state and
// may be shared between goroutines if the region allows concurrent reads.
type Matcher struct {
	region memory.Region
	cfg    Config
}

// New creates a matcher over region.
func New(region memory.Region, opts ...Option) *Matcher {
	m := &Matcher{region: region, cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&m.cfg)
	}
	return m
}

// Region returns the region being scanned.
func (m *Matcher) Region() memory.Region { return m.region }

// Scan probes every address of the region in ascending order and returns the
// capture vector of the first position where seq matches. With StartAt only
// that address is tried.
func (m *Matcher) Scan(ctx context.Context, seq signature.Sequence, opts ...ScanOption) ([]types.Address, error) {
	sc := m.scanConfig(opts)
	if sc.startAt != nil {
		return m.Verify(ctx, seq, *sc.startAt)
	}

	var found []types.Address
	err := m.probe(ctx, seq, sc, func(res []types.Address) bool {
		found = res
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Verify tries seq at exactly addr.
func (m *Matcher) Verify(ctx context.Context, seq signature.Sequence, addr types.Address) ([]types.Address, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e := m.newExec(ctx)
	if err := e.check(); err != nil {
		return nil, err
	}
	_, res, ok := e.run(seq, addr, nil)
	if e.err != nil {
		return nil, e.err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return finish(res), nil
}

// ScanAll returns the capture vectors of every matching probe position, in
// ascending order, stopping after limit matches (0 means no limit). Each
// position is matched independently. No match is not an error.
func (m *Matcher) ScanAll(ctx context.Context, seq signature.Sequence, limit int, opts ...ScanOption) ([][]types.Address, error) {
	sc := m.scanConfig(opts)
	if sc.startAt != nil {
		res, err := m.Verify(ctx, seq, *sc.startAt)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return [][]types.Address{res}, nil
	}

	var all [][]types.Address
	err := m.probe(ctx, seq, sc, func(res []types.Address) bool {
		all = append(all, res)
		return limit <= 0 || len(all) < limit
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// probe calls emit for each matching position in the probe window until emit
// returns false.
func (m *Matcher) probe(ctx context.Context, seq signature.Sequence, sc scanConfig, emit func([]types.Address) bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	from, to := m.window(sc)
	if from >= to {
		return nil
	}

	e := m.newExec(ctx)
	next := m.candidates(seq, from, to)
	for p, ok := next(); ok; p, ok = next() {
		if err := e.check(); err != nil {
			return err
		}
		_, res, matched := e.run(seq, p, nil)
		if e.err != nil {
			return e.err
		}
		if matched && !emit(finish(res)) {
			return nil
		}
	}
	return nil
}

// window clips the configured probe range to the region.
func (m *Matcher) window(sc scanConfig) (types.Address, types.Address) {
	from, to := m.region.Start(), m.region.End()
	if sc.from != nil && *sc.from > from {
		from = *sc.from
	}
	if sc.to != nil && *sc.to < to {
		to = *sc.to
	}
	return from, to
}

// candidates yields probe positions in [from, to). When the region's bytes
// are directly addressable and the signature opens with a literal, positions
// where that literal does not occur are skipped without running the program.
func (m *Matcher) candidates(seq signature.Sequence, from, to types.Address) func() (types.Address, bool) {
	br, isBytes := m.region.(memory.ByteRegion)
	lit := leadingLiteral(seq)
	if !isBytes || len(lit) == 0 || m.cfg.DisableLiteralSkip {
		p := from
		return func() (types.Address, bool) {
			if p >= to {
				return 0, false
			}
			cur := p
			p++
			return cur, true
		}
	}

	data := br.Bytes()
	base := br.Start()
	off := int(from - base)
	limit := int(to - base)
	return func() (types.Address, bool) {
		if off >= limit {
			return 0, false
		}
		// The literal may extend past the probe window but not the region.
		idx := bytes.Index(data[off:], lit)
		if idx < 0 || off+idx >= limit {
			off = limit
			return 0, false
		}
		cur := base + types.Address(off+idx)
		off += idx + 1
		return cur, true
	}
}

// leadingLiteral returns the bytes every match must start with, if the
// signature opens with Save commands followed by a ByteSequence.
func leadingLiteral(seq signature.Sequence) []byte {
	for _, c := range seq {
		switch v := c.(type) {
		case signature.Save:
			continue
		case signature.ByteSequence:
			return v.Bytes
		default:
			return nil
		}
	}
	return nil
}

func (m *Matcher) newExec(ctx context.Context) *exec {
	return &exec{
		ctx:    ctx,
		region: m.region,
		start:  m.region.Start(),
		end:    m.region.End(),
		budget: m.cfg.StepBudget,
	}
}

func (m *Matcher) scanConfig(opts []ScanOption) scanConfig {
	var sc scanConfig
	for _, opt := range opts {
		opt(&sc)
	}
	return sc
}

// finish converts an internal capture vector into the caller's copy.
func finish(res results) []types.Address {
	out := make([]types.Address, len(res))
	copy(out, res)
	return out
}
