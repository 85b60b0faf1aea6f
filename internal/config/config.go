// Package config loads the conductor's configuration: the component
// registry (id to spawn template), shutdown grace period, logger
// settings, and the optional status server address.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the conductor's root configuration struct.
type Config struct {
	Conductor ConductorConfig          `mapstructure:"conductor" yaml:"conductor"`
	Log       LogConfig                `mapstructure:"log" yaml:"log"`
	Status    StatusConfig             `mapstructure:"status" yaml:"status"`
	Registry  map[string]ComponentSpec `mapstructure:"registry" yaml:"registry,omitempty"`
}

// ConductorConfig holds chain-level runtime settings.
type ConductorConfig struct {
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// LogConfig mirrors pkg/logger.LogConfig's wire shape so it can be
// unmarshaled straight out of viper.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StatusConfig controls the optional read-only observability server.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// ComponentSpec is a registry entry: a named template for spawning one
// chain component, resolved by id from a --proxy flag. The terminal
// agent command is taken literally from the command line and is not
// looked up in the registry.
type ComponentSpec struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args,omitempty"`
	Env     []string `mapstructure:"env" yaml:"env,omitempty"`
}

var (
	global     *Config
	configPath string
	mu         sync.RWMutex
)

// Load reads configuration from path (if non-empty) over the registered
// defaults, with CONDUCTOR_-prefixed environment variables taking
// precedence over both.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("CONDUCTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		configPath = path
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, fmt.Errorf("config: parse %s: %w", path, err)
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	global = &cfg
	return &cfg, nil
}

// Get returns the most recently loaded configuration, or nil if Load
// has not been called.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Reset clears the loaded configuration; used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	global = nil
	configPath = ""
	viper.Reset()
}

// LoadYAML parses raw YAML directly into a Config, bypassing viper. Used
// by tests that want to exercise a config file's shape without touching
// viper's process-global state.
func LoadYAML(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal yaml: %w", err)
	}
	return cfg, nil
}
