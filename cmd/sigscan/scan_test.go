package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/sigscan/pkg/types"
)

// testImage holds a frame-pointer prologue and a RIP-relative load of the
// qword at base+0x20.
var testImage = func() []byte {
	b := make([]byte, 0x28)
	copy(b, []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xE5, // mov rbp, rsp
		0x48, 0x8B, 0x05, 0x15, 0x00, 0x00, 0x00, // mov rax, [rip+0x15]
		0xC3,
	})
	return b
}()

const testRulesYAML = `rules:
  - id: frame
    name: Frame pointer
    pattern: 55 48 89 E5
  - id: load
    name: RIP load
    pattern: |
      48 8B 05 $ \   # mov rax, [rip+disp32]
    base_slot: 1
`

// setupScan writes the test image and rules into a temp dir and resets the
// scan flags. It returns the temp dir.
func setupScan(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.bin"), testImage, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(testRulesYAML), 0o644))

	scanRulesPath = filepath.Join(dir, "rules.yaml")
	scanRuleset = ""
	scanRulesInclude = ""
	scanRulesExclude = ""
	scanOutputPath = filepath.Join(t.TempDir(), "scan.db")
	scanOutputFormat = "human"
	scanAll = false
	scanLimit = 0
	scanStepBudget = 0
	scanIncremental = false
	scanBase = "0x1000"
	scanPID = 0
	scanProcess = ""
	scanModule = ""
	scanMaxFileSize = 10 * 1024 * 1024
	scanIncludeHidden = false
	return dir
}

func newTestCmd() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	return cmd, &out, &errOut
}

func TestRunScan_FileJSON(t *testing.T) {
	dir := setupScan(t)
	scanOutputFormat = "json"

	cmd, out, errOut := newTestCmd()
	require.NoError(t, runScan(cmd, []string{filepath.Join(dir, "image.bin")}))

	assert.Contains(t, errOut.String(), "Scan complete: 1 images, 2 matches")
	assert.Contains(t, errOut.String(), scanOutputPath)

	var matches []types.Match
	require.NoError(t, json.Unmarshal(out.Bytes(), &matches))
	require.Len(t, matches, 2)
	assert.Equal(t, "frame", matches[0].RuleID)
	assert.Equal(t, []types.Address{0x1000}, matches[0].Addresses)
	assert.Equal(t, "load", matches[1].RuleID)
	assert.Equal(t, []types.Address{0x1004, 0x1020}, matches[1].Addresses)
	assert.Equal(t, int64(4), matches[1].Offset)

	_, err := os.Stat(scanOutputPath)
	assert.NoError(t, err, "database file should be created")
}

func TestRunScan_DirectoryHuman(t *testing.T) {
	dir := setupScan(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.bin"), []byte("hello"), 0o644))

	cmd, out, _ := newTestCmd()
	require.NoError(t, runScan(cmd, []string{dir}))

	output := out.String()
	// image.bin, junk.bin and rules.yaml
	assert.Contains(t, output, "Scan complete: 3 images, 2 matches")
	assert.Contains(t, output, "1. frame at 0x1000 in "+filepath.Join(dir, "image.bin"))
	assert.Contains(t, output, "2. load at 0x1004")
	assert.Contains(t, output, "captures: 0x1020")
}

func TestRunScan_SARIF(t *testing.T) {
	dir := setupScan(t)
	scanOutputFormat = "sarif"

	cmd, out, _ := newTestCmd()
	require.NoError(t, runScan(cmd, []string{filepath.Join(dir, "image.bin")}))

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "2.1.0", report["version"])

	run := report["runs"].([]interface{})[0].(map[string]interface{})
	assert.Len(t, run["results"], 2)
	driver := run["tool"].(map[string]interface{})["driver"].(map[string]interface{})
	assert.Len(t, driver["rules"], 2)
}

func TestRunScan_Incremental(t *testing.T) {
	dir := setupScan(t)
	scanIncremental = true
	target := filepath.Join(dir, "image.bin")

	cmd, out, _ := newTestCmd()
	require.NoError(t, runScan(cmd, []string{target}))
	assert.Contains(t, out.String(), "Scan complete: 1 images, 2 matches")

	cmd, out, _ = newTestCmd()
	require.NoError(t, runScan(cmd, []string{target}))
	assert.Contains(t, out.String(), "Scan complete: 1 images, 0 matches")
	// Earlier matches are still reported from the store.
	assert.Contains(t, out.String(), "1. frame at 0x1000")
}

func TestRunScan_AllMatches(t *testing.T) {
	dir := setupScan(t)
	data := append(append([]byte{}, testImage...), 0x55, 0x48, 0x89, 0xE5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.bin"), data, 0o644))
	scanRulesInclude = "^frame$"
	scanAll = true

	cmd, out, _ := newTestCmd()
	require.NoError(t, runScan(cmd, []string{filepath.Join(dir, "image.bin")}))
	assert.Contains(t, out.String(), "Scan complete: 1 images, 2 matches")
	assert.Contains(t, out.String(), "frame at 0x1028")
}

func TestRunScan_BuiltinRuleset(t *testing.T) {
	dir := setupScan(t)
	scanRulesPath = ""
	scanRuleset = "functions"

	cmd, out, _ := newTestCmd()
	require.NoError(t, runScan(cmd, []string{filepath.Join(dir, "image.bin")}))
	assert.Contains(t, out.String(), "x64.prologue.frame_pointer")
	assert.NotContains(t, out.String(), "x64.data.mov_rax_rip")
}

func TestRunScan_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		setup   func()
		wantErr string
	}{
		{
			name:    "no target",
			wantErr: "a target path, --pid or --process is required",
		},
		{
			name:    "target with pid",
			args:    []string{"image.bin"},
			setup:   func() { scanPID = 1 },
			wantErr: "cannot be combined",
		},
		{
			name:    "missing target",
			args:    []string{"/nonexistent/path/12345"},
			wantErr: "target does not exist",
		},
		{
			name:    "bad base",
			args:    []string{"image.bin"},
			setup:   func() { scanBase = "zz" },
			wantErr: "parsing --base",
		},
		{
			name: "unknown ruleset",
			args: []string{"image.bin"},
			setup: func() {
				scanRulesPath = ""
				scanRuleset = "nope"
			},
			wantErr: "unknown ruleset: nope",
		},
		{
			name:    "nothing selected",
			args:    []string{"image.bin"},
			setup:   func() { scanRulesExclude = ".*" },
			wantErr: "no rules selected",
		},
		{
			name:    "unknown format",
			args:    []string{"image.bin"},
			setup:   func() { scanOutputFormat = "xml" },
			wantErr: "unknown output format: xml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupScan(t)
			if tt.setup != nil {
				tt.setup()
			}
			args := make([]string, len(tt.args))
			for i, a := range tt.args {
				if a == "image.bin" {
					a = filepath.Join(dir, a)
				}
				args[i] = a
			}

			cmd, _, _ := newTestCmd()
			err := runScan(cmd, args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRules(t *testing.T) {
	rules, err := loadRules("", "", `^x64\.prologue\.`, "")
	require.NoError(t, err)
	require.NotEmpty(t, rules)
	for _, r := range rules {
		assert.Regexp(t, `^x64\.prologue\.`, r.ID)
	}

	all, err := loadRules("", "", "", "")
	require.NoError(t, err)
	assert.Greater(t, len(all), len(rules))

	_, err = loadRules("", "", "(", "")
	assert.Error(t, err)
}
