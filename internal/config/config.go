// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the service configuration that can be loaded from a JSON
// file. All fields are optional; missing values use defaults or must be
// provided via CLI flags or environment variables.
type Config struct {
	Port        int    `json:"port,omitempty"`         // HTTP listen port
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key
	DataDir     string `json:"data_dir,omitempty"`     // Directory for uploaded report files
	Workers     int    `json:"workers,omitempty"`      // Background worker count
	Verbose     bool   `json:"verbose,omitempty"`      // Print detailed debug information
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:    8000,
		DataDir: "data",
		Workers: 2,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Required fields are checked by the CLI after merging, not here.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config error: 'workers' must be non-negative")
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero-valued fields filled from
// defaults. This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.DataDir == "" {
		result.DataDir = defaults.DataDir
	}
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
