// Package config loads the daemon configuration. Every setting has a
// built-in default, so running without a configuration file is normal.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is where the daemon looks for its configuration file.
const DefaultPath = "/etc/unblank-restart-sensors.toml"

// Config is the daemon configuration.
type Config struct {
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `toml:"log_level"`

	Restart RestartConfig `toml:"restart"`
}

// RestartConfig describes the unit restarted when the display turns on.
type RestartConfig struct {
	// Unit is the systemd unit to restart.
	Unit    string        `toml:"unit"`
	// Mode is the systemd job mode passed to RestartUnit.
	Mode    string        `toml:"mode"`
	// Timeout bounds how long a restart request may stay pending.
	Timeout time.Duration `toml:"timeout"`
}

// DefaultConfig returns a Config populated with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Restart: RestartConfig{
			Unit:    "sensorfwd.service",
			Mode:    "replace",
			Timeout: 25 * time.Second,
		},
	}
}

// Load reads and parses the configuration file at path.
// If the file doesn't exist, returns DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse overlays the TOML document data on the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse config: unknown key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration can be used.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.Restart.Unit == "" {
		return errors.New("restart.unit must not be empty")
	}
	if c.Restart.Mode == "" {
		return errors.New("restart.mode must not be empty")
	}
	if c.Restart.Timeout <= 0 {
		return fmt.Errorf("restart.timeout must be positive, got %v", c.Restart.Timeout)
	}
	return nil
}
