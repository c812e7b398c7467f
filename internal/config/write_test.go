package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := &Config{
		DataDir:     "/srv/rott",
		SyncURL:     "wss://relay.example.com/sync",
		SyncEnabled: true,
		FavoriteTag: "reading",
		LogFile:     "/var/log/rott.log",
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSave_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.toml")
	require.NoError(t, Save(path, DefaultConfig()))

	_, err := Load(path, testLogger(t))
	require.NoError(t, err)
}
