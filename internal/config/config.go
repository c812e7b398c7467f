// Package config implements TOML configuration loading, environment
// overrides, and platform-specific path resolution for rott.
package config

// Config is the top-level configuration structure, per spec.md §6.
type Config struct {
	DataDir     string `toml:"data_dir"`
	SyncURL     string `toml:"sync_url"`
	SyncEnabled bool   `toml:"sync_enabled"`
	FavoriteTag string `toml:"favorite_tag"`
	LogFile     string `toml:"log_file"`
}

// DefaultConfig returns a Config populated with all default values. Used
// both as the decode target (so unset TOML keys keep their default) and
// as the zero-config fallback when no file exists.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     DefaultDataDir(),
		SyncURL:     "",
		SyncEnabled: false,
		FavoriteTag: "",
		LogFile:     "",
	}
}
