package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/praetorian-inc/sigscan/pkg/matcher"
	"github.com/praetorian-inc/sigscan/pkg/memory"
	"github.com/praetorian-inc/sigscan/pkg/store"
	"github.com/praetorian-inc/sigscan/pkg/types"
)

const base = types.Address(0x400000)

// code is a prologue, a call to base+0xE, padding, and a ret.
var code = []byte{
	0x48, 0x83, 0xEC, 0x28,       // sub rsp, 0x28
	0xE8, 0x05, 0x00, 0x00, 0x00, // call +5
	0x90, 0x90, 0x90, 0x90, 0x90,
	0xC3, 0xCC,
}

func testRules() []*types.Rule {
	return []*types.Rule{
		{ID: "prologue", Name: "Prologue", Pattern: "48 83 EC ??"},
		{ID: "call", Name: "Call", Pattern: `E8 $ \`, BaseSlot: 1},
		{ID: "absent", Name: "Absent", Pattern: `"NOPE" 90`},
	}
}

func newCore(t *testing.T, opts ...Option) *Core {
	t.Helper()
	c, err := NewCore(testRules(), opts...)
	require.NoError(t, err)
	return c
}

func matchesByRule(matches []*types.Match) map[string][]*types.Match {
	out := make(map[string][]*types.Match)
	for _, m := range matches {
		out[m.RuleID] = append(out[m.RuleID], m)
	}
	return out
}

func TestNewCore(t *testing.T) {
	c := newCore(t)

	rules := c.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, "prologue", rules[0].ID)
	assert.NotEmpty(t, rules[0].StructuralID)

	seq, ok := c.Sequence("call")
	require.True(t, ok)
	assert.Equal(t, `\0 E8 $ \1`, seq.String())

	_, ok = c.Sequence("missing")
	assert.False(t, ok)
}

func TestNewCore_Errors(t *testing.T) {
	_, err := NewCore([]*types.Rule{{ID: "bad", Name: "Bad", Pattern: "48 ["}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	_, err = NewCore([]*types.Rule{
		{ID: "dup", Name: "A", Pattern: "90"},
		{ID: "dup", Name: "B", Pattern: "91"},
	})
	assert.ErrorContains(t, err, "duplicate rule ID: dup")
}

func TestNewCore_Builtin(t *testing.T) {
	c, err := NewCore(nil)
	require.NoError(t, err)

	builtin, err := GetBuiltinRules()
	require.NoError(t, err)
	assert.Len(t, c.Rules(), len(builtin))
}

func TestScanRegion(t *testing.T) {
	c := newCore(t)
	target := types.MemoryTarget{Name: "code", Base: base}

	res, err := c.ScanRegion(context.Background(), memory.NewSliceRegion(base, code), target)
	require.NoError(t, err)

	byRule := matchesByRule(res.Matches)
	require.Len(t, byRule["prologue"], 1)
	require.Len(t, byRule["call"], 1)

	prologue := byRule["prologue"][0]
	assert.Equal(t, []types.Address{base}, prologue.Addresses)
	assert.Equal(t, int64(0), prologue.Offset)
	assert.Equal(t, "Prologue", prologue.RuleName)
	assert.Equal(t, types.ComputeImageID(code), prologue.ImageID)
	assert.Equal(t, target, prologue.Target)

	call := byRule["call"][0]
	assert.Equal(t, []types.Address{base + 4, base + 0xE}, call.Addresses)
	assert.Equal(t, int64(4), call.Offset)
	assert.Equal(t, call.ComputeStructuralID(c.Rules()[1].StructuralID), call.StructuralID)

	assert.Equal(t, 2, res.Summary.TotalRules)
	assert.Equal(t, 1, res.Summary.SkippedRules)
	assert.Equal(t, 2, res.Summary.CompletedRules)
	assert.Equal(t, 1, res.RuleStats["call"].Matches)
	_, ran := res.RuleStats["absent"]
	assert.False(t, ran, "prefiltered rules never run")
}

func TestScanRegion_NotFoundIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c, err := NewCore([]*types.Rule{{ID: "ret", Name: "Ret", Pattern: "C2"}}, WithLogger(zap.New(core)))
	require.NoError(t, err)

	res, err := c.ScanRegion(context.Background(), memory.NewSliceRegion(base, []byte{0x90, 0xC3}), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Equal(t, matcher.RuleCompleted, res.RuleStats["ret"].Status)

	entries := logs.FilterMessage("signature not found").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ret", entries[0].ContextMap()["rule"])
}

func TestScanRegion_AllMatches(t *testing.T) {
	data := []byte{0x48, 0x83, 0xEC, 0x28, 0x90, 0x48, 0x83, 0xEC, 0x38, 0x48, 0x83, 0xEC, 0x08}

	first := newCore(t)
	res, err := first.ScanRegion(context.Background(), memory.NewSliceRegion(base, data), nil)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 1)

	all := newCore(t, WithAllMatches(true, 0))
	res, err = all.ScanRegion(context.Background(), memory.NewSliceRegion(base, data), nil)
	require.NoError(t, err)
	require.Len(t, res.Matches, 3)
	assert.Equal(t, base+5, res.Matches[1].Anchor())
	assert.Equal(t, base+9, res.Matches[2].Anchor())

	limited := newCore(t, WithAllMatches(true, 2))
	res, err = limited.ScanRegion(context.Background(), memory.NewSliceRegion(base, data), nil)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
}

func TestScanRegion_DedupeByCaptures(t *testing.T) {
	// Two call sites of the same function at base+0xA.
	data := []byte{
		0xE8, 0x05, 0x00, 0x00, 0x00,
		0xE8, 0x00, 0x00, 0x00, 0x00,
		0x90, 0x90, 0x90, 0x90, 0x90, 0xC3,
	}
	rules := []*types.Rule{{ID: "call", Name: "Call", Pattern: `E8 $ \`, BaseSlot: 1}}

	c, err := NewCore(rules, WithAllMatches(true, 0))
	require.NoError(t, err)
	res, err := c.ScanRegion(context.Background(), memory.NewSliceRegion(base, data), nil)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, base+0xA, res.Matches[0].Addresses[1])
	assert.Equal(t, base+0xA, res.Matches[1].Addresses[1])

	c, err = NewCore(rules, WithAllMatches(true, 0), WithDedupe(matcher.DedupeByCaptures))
	require.NoError(t, err)
	res, err = c.ScanRegion(context.Background(), memory.NewSliceRegion(base, data), nil)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, base, res.Matches[0].Anchor())
}

func TestScanRegion_StepBudget(t *testing.T) {
	rules := []*types.Rule{
		{ID: "slow", Name: "Slow", Pattern: "[0-8] [0-8] 77"},
		{ID: "prologue", Name: "Prologue", Pattern: "48 83 EC ??"},
	}
	c, err := NewCore(rules, WithStepBudget(1))
	require.NoError(t, err)

	res, err := c.ScanRegion(context.Background(), memory.NewSliceRegion(base, code), nil)
	require.NoError(t, err)
	assert.Equal(t, matcher.RuleBudgetExceeded, res.RuleStats["slow"].Status)
	assert.Equal(t, 1, res.Summary.BudgetExceededRules)
	assert.Len(t, res.Matches, 1, "other rules still run")
}

func TestScanRegion_ContextCancelled(t *testing.T) {
	c := newCore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ScanRegion(ctx, memory.NewSliceRegion(base, code), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanRegion_Store(t *testing.T) {
	s := store.NewMemory()
	c := newCore(t, WithStore(s))
	target := types.FileTarget{FilePath: "/bin/code", Base: base}

	_, err := c.ScanRegion(context.Background(), memory.NewSliceRegion(base, code), target)
	require.NoError(t, err)

	id := types.ComputeImageID(code)
	exists, err := s.ImageExists(id)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.GetTarget(id)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	matches, err := s.GetAllMatches()
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	rules, err := s.GetRules()
	require.NoError(t, err)
	assert.Len(t, rules, 2, "only rules with matches are recorded")
}

func TestScanRegion_Incremental(t *testing.T) {
	s := store.NewMemory()
	c := newCore(t, WithStore(s), WithIncremental(true))
	region := memory.NewSliceRegion(base, code)

	res, err := c.ScanRegion(context.Background(), region, nil)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)

	res, err = c.ScanRegion(context.Background(), region, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Equal(t, 3, res.Summary.SkippedRules)
}

func TestScanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.bin")
	require.NoError(t, os.WriteFile(path, code, 0o644))

	c := newCore(t)
	res, err := c.ScanFile(context.Background(), path, base)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, types.FileTarget{FilePath: path, Base: base}, res.Matches[0].Target)

	_, err = c.ScanFile(context.Background(), filepath.Join(t.TempDir(), "missing"), base)
	assert.Error(t, err)
}

func TestScanBatch(t *testing.T) {
	c := newCore(t)

	batch, err := c.ScanBatch(context.Background(), []Image{
		{Name: "code", Base: base, Data: code},
		{Name: "empty", Base: base, Data: []byte{0x90}},
	})
	require.NoError(t, err)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, "code", batch.Results[0].Name)
	assert.Len(t, batch.Results[0].Matches, 2)
	assert.Empty(t, batch.Results[1].Matches)
	assert.Equal(t, types.ComputeImageID([]byte{0x90}), batch.Results[1].ImageID)
}

func TestImageIDFor(t *testing.T) {
	region := memory.NewSliceRegion(base, code)
	assert.Equal(t, types.ComputeImageID(code), imageIDFor(region, nil))

	proc := types.ProcessTarget{PID: 7, Module: "/lib/x.so"}
	hole := nonByteRegion{start: 0x1000, end: 0x2000}
	assert.Equal(t, types.ComputeProcessImageID(7, "/lib/x.so", 0x1000, 0x1000), imageIDFor(hole, proc))
}

// nonByteRegion is a Region whose bytes cannot be addressed directly.
type nonByteRegion struct {
	start, end types.Address
}

func (r nonByteRegion) Start() types.Address { return r.start }
func (r nonByteRegion) End() types.Address   { return r.end }
func (r nonByteRegion) Contains(a types.Address) bool {
	return a >= r.start && a < r.end
}
func (r nonByteRegion) ReadBytes(addr types.Address, n int) ([]byte, error) {
	return nil, memory.ErrUnreadable
}
