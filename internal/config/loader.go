package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir

const (
	userConfigDir  = ".config/livetunnel"
	configFileName = "config.yaml"
)

// ErrInvalidConfig marks a configuration that fails validation. The usual
// remedy is re-running the setup assistant.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrNotFound is returned by Load when no configuration file exists yet.
var ErrNotFound = errors.New("configuration file not found")

// Load reads and validates the tunnel configuration from the user config
// directory. A missing file is reported as ErrNotFound so callers can
// fall back to the setup assistant.
func Load() (TunnelConfig, error) {
	path, err := getConfigPath()
	if err != nil {
		return TunnelConfig{}, fmt.Errorf("determining config path: %w", err)
	}
	return loadConfigFromFile(path)
}

// Store writes the configuration to the user config directory, creating
// the directory if needed.
func Store(cfg TunnelConfig) error {
	path, err := getConfigPath()
	if err != nil {
		return fmt.Errorf("determining config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	// 0600: the file holds credential digests.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var getConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir() // Use mockable variable
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// loadConfigFromFile loads a TunnelConfig from a YAML file and validates it.
func loadConfigFromFile(filePath string) (TunnelConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return TunnelConfig{}, ErrNotFound
		}
		return TunnelConfig{}, err
	}
	var cfg TunnelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TunnelConfig{}, fmt.Errorf("parsing %s: %w", filePath, err)
	}
	if err := cfg.Validate(); err != nil {
		return TunnelConfig{}, fmt.Errorf("config %s: %w", filePath, err)
	}
	return cfg, nil
}
