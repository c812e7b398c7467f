package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
data_dir = "/srv/rott"
sync_url = "wss://relay.example.com/sync"
sync_enabled = true
favorite_tag = "reading"
log_file = "/var/log/rott.log"
`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "/srv/rott", cfg.DataDir)
	assert.Equal(t, "wss://relay.example.com/sync", cfg.SyncURL)
	assert.True(t, cfg.SyncEnabled)
	assert.Equal(t, "reading", cfg.FavoriteTag)
	assert.Equal(t, "/var/log/rott.log", cfg.LogFile)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `favorite_tag = "later"`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "later", cfg.FavoriteTag)
	assert.Equal(t, DefaultDataDir(), cfg.DataDir)
	assert.False(t, cfg.SyncEnabled)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"), testLogger(t))
	assert.Error(t, err)
}

func TestLoad_InvalidTOMLErrors(t *testing.T) {
	path := writeTestConfig(t, `this is not valid toml =====`)
	_, err := Load(path, testLogger(t))
	assert.Error(t, err)
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"), testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultDataDir(), cfg.DataDir)
}

func TestLoadOrDefault_ExistingFileLoads(t *testing.T) {
	path := writeTestConfig(t, `data_dir = "/custom/data"`)
	cfg, err := LoadOrDefault(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "/custom/data", cfg.DataDir)
}

func TestLoad_EnvOverrideWinsOverFile(t *testing.T) {
	path := writeTestConfig(t, `data_dir = "/from/file"`)
	t.Setenv(EnvDataDir, "/from/env")

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir)
}

func TestResolve_UsesDefaultPathWhenNothingElseSpecified(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", "")
	os.Unsetenv("XDG_CONFIG_HOME")

	cfg, err := Resolve("", testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultDataDir(), cfg.DataDir)
}
