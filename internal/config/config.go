package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration at <base>/config.toml.
type Config struct {
	// DataDir overrides the default ~/.obdesk data directory.
	DataDir string `toml:"data_dir"`
	// Endpoint is the OneBot WebSocket URL to auto-connect to on start.
	// Empty means the daemon waits for an explicit connect command.
	Endpoint    string `toml:"endpoint"`
	AccessToken string `toml:"access_token"`
	// KeepMessages is the per-account row count TrimMessages keeps.
	KeepMessages int `toml:"keep_messages"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
