package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/data")
	t.Setenv(EnvSyncURL, "wss://relay.example.com/sync")
	t.Setenv(EnvSyncEnabled, "true")
	t.Setenv(EnvConfigPath, "/tmp/config.toml")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/tmp/data", overrides.DataDir)
	assert.Equal(t, "wss://relay.example.com/sync", overrides.SyncURL)
	assert.Equal(t, "/tmp/config.toml", overrides.ConfigPath)
	if assert.NotNil(t, overrides.SyncEnabled) {
		assert.True(t, *overrides.SyncEnabled)
	}
}

func TestEnvOverrides_ApplyLeavesUnsetFieldsAlone(t *testing.T) {
	cfg := &Config{DataDir: "/original", SyncURL: "original-url", SyncEnabled: true}
	overrides := EnvOverrides{}

	overrides.Apply(cfg)

	assert.Equal(t, "/original", cfg.DataDir)
	assert.Equal(t, "original-url", cfg.SyncURL)
	assert.True(t, cfg.SyncEnabled)
}

func TestEnvOverrides_ApplyOverridesSetFields(t *testing.T) {
	cfg := &Config{DataDir: "/original", SyncEnabled: true}
	disabled := false
	overrides := EnvOverrides{DataDir: "/override", SyncEnabled: &disabled}

	overrides.Apply(cfg)

	assert.Equal(t, "/override", cfg.DataDir)
	assert.False(t, cfg.SyncEnabled)
}

func TestResolveConfigPath_PrecedenceCLIThenEnvThenDefault(t *testing.T) {
	assert.Equal(t, "/cli/path.toml", ResolveConfigPath(EnvOverrides{ConfigPath: "/env/path.toml"}, "/cli/path.toml"))
	assert.Equal(t, "/env/path.toml", ResolveConfigPath(EnvOverrides{ConfigPath: "/env/path.toml"}, ""))
	assert.Equal(t, DefaultConfigPath(), ResolveConfigPath(EnvOverrides{}, ""))
}
