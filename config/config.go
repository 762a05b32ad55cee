// Package config loads the optional per-workspace configuration from
// .roslyn-query/config.yaml under the workspace root. Missing files and
// missing keys fall back to defaults; the daemon never writes the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	ConfigDir      = ".roslyn-query"
	ConfigFileName = "config.yaml"
)

// DefaultIdleTimeoutMinutes is applied when the config and the command line
// are both silent. Zero disables the idle watchdog.
const DefaultIdleTimeoutMinutes = 30

// DefaultDebounceMs is the watcher coalescing window.
const DefaultDebounceMs = 300

type Config struct {
	Version            int         `yaml:"version"`
	IdleTimeoutMinutes *int        `yaml:"idle_timeout_minutes,omitempty"`
	Watch              WatchConfig `yaml:"watch"`
	Ignore             []string    `yaml:"ignore"`
}

type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Watch: WatchConfig{
			DebounceMs: DefaultDebounceMs,
		},
	}
}

func GetConfigPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ConfigDir, ConfigFileName)
}

// Load reads the workspace config, returning defaults when no file exists.
func Load(workspaceRoot string) (*Config, error) {
	data, err := os.ReadFile(GetConfigPath(workspaceRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills in missing values so older or partial config files
// keep working.
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Watch.DebounceMs <= 0 {
		c.Watch.DebounceMs = DefaultDebounceMs
	}
}

// ResolveIdleTimeoutMinutes picks the effective idle timeout: an explicit
// command-line value wins (>= 0), then the config file, then the default.
func (c *Config) ResolveIdleTimeoutMinutes(flagValue int) int {
	if flagValue >= 0 {
		return flagValue
	}
	if c.IdleTimeoutMinutes != nil && *c.IdleTimeoutMinutes >= 0 {
		return *c.IdleTimeoutMinutes
	}
	return DefaultIdleTimeoutMinutes
}
