package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigDir returns the default configuration directory (~/.conductor).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".conductor"), nil
}

// DefaultConfigPath returns the default configuration file path
// (~/.conductor/config.yaml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
