package sigscan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/sigscan/pkg/store"
)

// image holds a frame-pointer prologue, a RIP-relative load of the qword at
// 0x1020 and the data it points to.
var image = func() []byte {
	b := make([]byte, 0x28)
	copy(b, []byte{
		0x55,                                     // push rbp
		0x48, 0x89, 0xE5,                         // mov rbp, rsp
		0x48, 0x8B, 0x05, 0x15, 0x00, 0x00, 0x00, // mov rax, [rip+0x15]
		0xC3,
	})
	copy(b[0x20:], []byte{0xEF, 0xBE, 0xAD, 0xDE, 0, 0, 0, 0})
	return b
}()

func TestCompile(t *testing.T) {
	seq, err := Compile(`48 8B 05 $ \`)
	require.NoError(t, err)
	assert.Equal(t, `\0 48 8B 05 $ \1`, seq.String())

	_, err = Compile("48 [5-2]")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedSignature))

	var mse *MalformedSignatureError
	require.True(t, errors.As(err, &mse))
	assert.Equal(t, "[min-max]", mse.Construct)
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	region := NewSliceRegion(0x1000, image)

	seq, err := Compile(`48 8B 05 $ \`)
	require.NoError(t, err)

	addrs, err := Find(ctx, region, seq)
	require.NoError(t, err)
	assert.Equal(t, []Address{0x1004, 0x1020}, addrs)

	addrs, err = Verify(ctx, region, seq, 0x1004)
	require.NoError(t, err)
	assert.Equal(t, Address(0x1020), addrs[1])

	_, err = Verify(ctx, region, seq, 0x1000)
	assert.ErrorIs(t, err, ErrNotFound)

	missing, err := Compile("0F 0B")
	require.NoError(t, err)
	_, err = Find(ctx, region, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanner_CustomRules(t *testing.T) {
	rules := []*Rule{
		{ID: "frame", Name: "Frame pointer", Pattern: "55 48 89 E5"},
		{ID: "load", Name: "RIP load", Pattern: `48 8B 05 $ \`, BaseSlot: 1},
	}
	s := store.NewMemory()

	scanner, err := NewScanner(WithRules(rules), WithStore(s))
	require.NoError(t, err)
	assert.Len(t, scanner.Rules(), 2)

	res, err := scanner.ScanBytes(context.Background(), "image", 0x1000, image)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "frame", res.Matches[0].RuleID)
	assert.Equal(t, []Address{0x1004, 0x1020}, res.Matches[1].Addresses)

	stored, err := s.GetAllMatches()
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestScanner_Builtin(t *testing.T) {
	scanner, err := NewScanner()
	require.NoError(t, err)
	assert.NotEmpty(t, scanner.Rules())

	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, image, 0o644))

	res, err := scanner.ScanFile(context.Background(), path, 0x1000)
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, m := range res.Matches {
		found[m.RuleID] = true
	}
	assert.True(t, found["x64.prologue.frame_pointer"])
	assert.True(t, found["x64.data.mov_rax_rip"])
}

func TestScanner_AllMatches(t *testing.T) {
	data := []byte{0x90, 0xC3, 0x90, 0xC3, 0x90, 0xC3}
	rules := []*Rule{{ID: "ret", Name: "ret", Pattern: "90 C3"}}

	scanner, err := NewScanner(WithRules(rules), WithAllMatches(2))
	require.NoError(t, err)

	res, err := scanner.ScanBytes(context.Background(), "rets", 0, data)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
}

func TestScanner_FindWithBudget(t *testing.T) {
	scanner, err := NewScanner(WithRules([]*Rule{{ID: "x", Name: "x", Pattern: "90"}}), WithStepBudget(1))
	require.NoError(t, err)

	seq, err := Compile("[0-8] [0-8] 77")
	require.NoError(t, err)

	_, err = scanner.Find(context.Background(), NewSliceRegion(0, image), seq)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestNewScanner_BadRule(t *testing.T) {
	_, err := NewScanner(WithRules([]*Rule{{ID: "broken", Name: "b", Pattern: "(90"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
