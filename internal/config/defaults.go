package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers every configuration key's default value with
// viper before a config file or environment variables are applied.
func SetDefaults() {
	viper.SetDefault("conductor.shutdown_grace", "5s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "")
	viper.SetDefault("log.file", "")

	viper.SetDefault("status.enabled", false)
	viper.SetDefault("status.addr", "127.0.0.1:7070")

	viper.SetDefault("registry.research.command", "internal:research")
}

// DefaultConfig returns a Config populated the same way SetDefaults
// would leave viper, for callers that want a value directly rather than
// going through the package-global loader (e.g. LoadYAML).
func DefaultConfig() *Config {
	return &Config{
		Conductor: ConductorConfig{ShutdownGrace: 5 * time.Second},
		Log:       LogConfig{Level: "info"},
		Status:    StatusConfig{Enabled: false, Addr: "127.0.0.1:7070"},
		Registry: map[string]ComponentSpec{
			"research": {Command: "internal:research"},
		},
	}
}
