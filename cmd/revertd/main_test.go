package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "revertstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: sqlite
  path: `+filepath.Join(dir, "revert.db")+`
access:
  editors: [tester]
`), 0o644))
	return path
}

func TestCommandsOnEmptyStore(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCmd(t, "--config", cfg, "--actor", "tester", "history", "Page", "42")
	require.NoError(t, err)
	assert.Contains(t, out, `"rows"`)

	out, err = runCmd(t, "--config", cfg, "--actor", "tester", "revert", "Page", "42", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "NO_LATEST_VERSION")

	out, err = runCmd(t, "--config", cfg, "--actor", "tester", "revert", "Page", "42", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "INVALID_VERSION_NUMBER")

	out, err = runCmd(t, "--config", cfg, "--actor", "tester", "report", "unpublished", "Page")
	require.NoError(t, err)
	assert.Contains(t, out, `"rows"`)

	_, err = runCmd(t, "--config", cfg, "--actor", "tester", "diff", "Page", "42", "2")
	assert.Error(t, err)
}

func TestCommandArgs(t *testing.T) {
	_, err := runCmd(t, "revert", "Page")
	assert.Error(t, err)

	_, err = runCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "history", "Page", "1")
	assert.Error(t, err)
}
