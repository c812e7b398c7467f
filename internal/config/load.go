package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, starting from DefaultConfig
// so unset keys keep their default value, then applies environment
// overrides.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	ReadEnvOverrides().Apply(cfg)

	logger.Debug("config file parsed successfully", "path", path, "data_dir", cfg.DataDir)

	return cfg, nil
}

// LoadOrDefault reads path if it exists, else returns DefaultConfig with
// environment overrides applied. Supports the zero-config first run.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)
		cfg := DefaultConfig()
		ReadEnvOverrides().Apply(cfg)
		return cfg, nil
	}

	return Load(path, logger)
}

// Resolve loads configuration applying the full chain: defaults -> config
// file -> environment variables, per spec.md §6.
func Resolve(cliConfigPath string, logger *slog.Logger) (*Config, error) {
	env := ReadEnvOverrides()
	path := ResolveConfigPath(env, cliConfigPath)

	cfg, err := LoadOrDefault(path, logger)
	if err != nil {
		return nil, fmt.Errorf("resolving config: %w", err)
	}

	return cfg, nil
}
