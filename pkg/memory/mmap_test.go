package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/sigscan/pkg/types"
)

func TestMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	want := []byte{0x4d, 0x5a, 0x90, 0x00, 0xc3}
	require.NoError(t, os.WriteFile(path, want, 0o644))

	r, err := MapFile(path, 0x400000)
	require.NoError(t, err)

	assert.Equal(t, path, r.Path())
	assert.Equal(t, types.Address(0x400000), r.Start())
	assert.Equal(t, types.Address(0x400005), r.End())

	got, err := r.ReadBytes(0x400002, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x00, 0xc3}, got)
	assert.Equal(t, want, r.Bytes())

	require.NoError(t, r.Close())
	// Closing twice is harmless and the region becomes empty.
	require.NoError(t, r.Close())
	assert.Equal(t, r.Start(), r.End())
}

func TestMapFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	r, err := MapFile(path, 0x1000)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, r.Start(), r.End())
	_, err = r.ReadBytes(0x1000, 1)
	assert.Error(t, err)
}

func TestMapFile_Missing(t *testing.T) {
	_, err := MapFile(filepath.Join(t.TempDir(), "nope.bin"), 0)
	assert.Error(t, err)
}
