package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/mixlab/internal/workspace"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MIXLAB_PROJECT_DIR", "")
	t.Setenv("MIXLAB_PORT", "")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWorkspaceCommand_EmptyProject(t *testing.T) {
	out, err := run(t, "workspace", "--project", t.TempDir())
	require.NoError(t, err)

	var state workspace.State
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Empty(t, state.Modules)
	assert.EqualValues(t, 1, state.NextID)
}

func TestWorkspaceCommand_ReadsPersistedState(t *testing.T) {
	dir := t.TempDir()
	data := `{"next_id":3,"modules":[{"id":1,"params":{"kind":"gate","gate":{"state":"open"}}},{"id":2,"params":{"kind":"monitor","monitor":{}}}],"connections":[{"from":{"module":1,"terminal":0},"to":{"module":2,"terminal":0}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workspace.json"), []byte(data), 0o644))

	out, err := run(t, "workspace", "-p", dir)
	require.NoError(t, err)

	var state workspace.State
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Len(t, state.Modules, 2)
	assert.Len(t, state.Connections, 1)
}

func TestWorkspaceCommand_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workspace.json"), []byte("{"), 0o644))

	_, err := run(t, "workspace", "-p", dir)
	assert.Error(t, err)
}

func TestConfigErrorsSurface(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixlab.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 0\n"), 0o644))

	_, err := run(t, "workspace", "--config", path)
	assert.Error(t, err)
}

func TestConfigFlagOverride(t *testing.T) {
	var configFlag, projectFlag = "", "/srv/override"
	ctx := newCommandContext(&configFlag, &projectFlag)
	t.Setenv("MIXLAB_PROJECT_DIR", "")

	cfg, err := ctx.ensureConfig()
	require.NoError(t, err)
	assert.Equal(t, "/srv/override", cfg.ProjectDir)
}
