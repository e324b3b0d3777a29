// Package config provides configuration loading and management for diffraxia.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Integration parameters
	Integration struct {
		// TthMin is the lower bound of the 2theta range in degrees
		TthMin float64 `yaml:"tthMin"`

		// TthMax is the upper bound of the 2theta range in degrees
		TthMax float64 `yaml:"tthMax"`

		// NBins is the number of 2theta bins
		NBins int `yaml:"nbins"`
	} `yaml:"integration"`

	// Output parameters
	Output struct {
		// TiffDir is the folder TIFF frames are written to on the
		// conversion path
		TiffDir string `yaml:"tiffDir"`

		// PatternPrefix is the default filename prefix for integrated
		// patterns on the integration path
		PatternPrefix string `yaml:"patternPrefix"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Run parameters
	Run struct {
		// MaxFrames caps how many frames are processed per run; 0 means all
		MaxFrames int `yaml:"maxFrames"`

		// FailFast aborts a run on the first failing frame instead of
		// reporting it and continuing
		FailFast bool `yaml:"failFast"`
	} `yaml:"run"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default integration parameters
	cfg.Integration.TthMin = 0.0
	cfg.Integration.TthMax = 20.0
	cfg.Integration.NBins = 2000

	// Set default output parameters
	cfg.Output.TiffDir = "tiff_out"
	cfg.Output.PatternPrefix = "pattern"
	cfg.Output.Verbose = false

	// Set default run parameters
	cfg.Run.MaxFrames = 0
	cfg.Run.FailFast = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
