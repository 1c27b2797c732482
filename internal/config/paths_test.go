package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePaths(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Paths.DataDir = dir

	p, err := ResolvePaths(cfg)
	require.NoError(t, err)

	assert.Equal(t, dir, p.DataDir)
	assert.Equal(t, filepath.Join(dir, DefaultStateFileName), p.StateFile)
	assert.Equal(t, filepath.Join(dir, DefaultLockFileName), p.LockFile)
	assert.Equal(t, filepath.Join(dir, DefaultLogsDir), p.LogsDir)
	assert.Equal(t, filepath.Join(dir, "logs", "brvlicense.log"), p.LogFile)
	assert.Empty(t, p.CredentialsFile, "unset credentials file stays empty")
}

func TestResolvePathsAbsoluteEntriesKept(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(t.TempDir(), "elsewhere", "state.json")

	cfg := Default()
	cfg.Paths.DataDir = dir
	cfg.Paths.StateFile = stateFile
	cfg.License.CredentialsFile = "creds.sealed"

	p, err := ResolvePaths(cfg)
	require.NoError(t, err)
	assert.Equal(t, stateFile, p.StateFile)
	assert.Equal(t, filepath.Join(dir, "creds.sealed"), p.CredentialsFile)
}

func TestResolvePathsDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	cfg.Paths.DataDir = ""

	p, err := ResolvePaths(cfg)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p.DataDir))
	assert.Contains(t, p.DataDir, AppName)
}

func TestEnsureDirectories(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	cfg := Default()
	cfg.Paths.DataDir = dir

	p, err := ResolvePaths(cfg)
	require.NoError(t, err)
	require.NoError(t, p.EnsureDirectories())

	info, err := os.Stat(p.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm(), "data directory is private")

	logInfo, err := os.Stat(p.LogsDir)
	require.NoError(t, err)
	assert.True(t, logInfo.IsDir())
}
