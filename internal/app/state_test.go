package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadState_Missing(t *testing.T) {
	state, err := loadState(t.TempDir(), "demo")
	require.NoError(t, err)

	assert.Equal(t, "demo", state.Job)
	assert.Equal(t, 1, state.NextBuildNumber)
	assert.Equal(t, StateSchemaVersion, state.SchemaVersion)
}

func TestState_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	state := newState("my job")

	assert.Equal(t, 1, state.claimBuildNumber())
	assert.Equal(t, 2, state.claimBuildNumber())
	state.record("run-id", 2, ResultAborted, "my_job-2")
	require.NoError(t, saveState(dir, state))

	assert.FileExists(t, filepath.Join(dir, "my_job.state.json"))

	loaded, err := loadState(dir, "my job")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.NextBuildNumber)
	assert.Equal(t, "run-id", loaded.LastRunID)
	assert.Equal(t, 2, loaded.LastBuildNumber)
	assert.Equal(t, ResultAborted, loaded.LastResult)
	assert.Equal(t, "my_job-2", loaded.LastContainer)
}

func TestLoadState_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.state.json"), []byte("{not json"), 0644))

	_, err := loadState(dir, "demo")
	assert.ErrorContains(t, err, "failed to parse state file")
}

func TestLoadState_RepairsBuildNumber(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.state.json"), []byte(`{"job":"demo","next_build_number":0}`), 0644))

	state, err := loadState(dir, "demo")
	require.NoError(t, err)
	assert.Equal(t, 1, state.NextBuildNumber)
}
