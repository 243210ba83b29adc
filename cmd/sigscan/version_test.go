package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunVersion(t *testing.T) {
	cmd, out, _ := newTestCmd()

	require.NoError(t, runVersion(cmd, []string{}))

	output := out.String()
	assert.Contains(t, output, "sigscan v")
	assert.Contains(t, output, "Commit:")
	assert.Contains(t, output, "Go version:")
	assert.Contains(t, output, "OS/Arch:")
}
