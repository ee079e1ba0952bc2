// Package config provides configuration loading and management for slabrecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"slabrecon/internal/models"
	"slabrecon/pkg/alignment"
	"slabrecon/pkg/reconstruction"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers bounds how many slabs are prepared and aligned concurrently
		Workers int `yaml:"workers"`

		// DuplicationFactor is the upsampling factor along the interleaving axis,
		// also used as the gap period. Two interleaved blocks only tile the
		// lattice with a factor of 2.
		DuplicationFactor int `yaml:"duplicationFactor"`

		// Axis is the interleaving axis: x, y or z
		Axis string `yaml:"axis"`
	} `yaml:"processing"`

	// Alignment parameters
	Alignment struct {
		// Engine is "resample" (built in) or "command" (external tool)
		Engine string `yaml:"engine"`

		// Command is the external coregistration tool
		Command string `yaml:"command"`

		// Args are passed to Command; {reference}, {source}, {companion} and
		// {prefix} are substituted
		Args []string `yaml:"args,omitempty"`

		// OutputPrefix is prepended by the tool to the files it writes
		OutputPrefix string `yaml:"outputPrefix"`
	} `yaml:"alignment"`

	// Output parameters
	Output struct {
		// Compress gzips the intermediates once they are no longer needed
		Compress bool `yaml:"compress"`

		// KeepTemp keeps the scratch folder handed to the aligner
		KeepTemp bool `yaml:"keepTemp"`

		// Previews writes mid-slice JPEGs of the recombined volume
		Previews bool `yaml:"previews"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogFile, when set, receives a rotated copy of the log
		LogFile string `yaml:"logFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.DuplicationFactor = reconstruction.BlockFactor
	cfg.Processing.Axis = "y"

	cfg.Alignment.Engine = alignment.EngineResample
	cfg.Alignment.OutputPrefix = "r"

	cfg.Output.Compress = true
	cfg.Output.KeepTemp = false
	cfg.Output.Previews = false
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration describes a runnable pipeline
func (c *Config) Validate() error {
	if c.Processing.Workers <= 0 {
		return fmt.Errorf("processing.workers must be positive, got %d", c.Processing.Workers)
	}
	if c.Processing.DuplicationFactor != reconstruction.BlockFactor {
		return fmt.Errorf("processing.duplicationFactor must be %d, got %d",
			reconstruction.BlockFactor, c.Processing.DuplicationFactor)
	}
	if _, err := models.ParseAxis(c.Processing.Axis); err != nil {
		return fmt.Errorf("processing.axis: %w", err)
	}

	switch c.Alignment.Engine {
	case alignment.EngineResample:
	case alignment.EngineCommand:
		if c.Alignment.Command == "" {
			return fmt.Errorf("alignment.command is required with the %q engine", alignment.EngineCommand)
		}
	default:
		return fmt.Errorf("alignment.engine must be %q or %q, got %q",
			alignment.EngineResample, alignment.EngineCommand, c.Alignment.Engine)
	}
	return nil
}

// AxisValue returns the parsed interleaving axis
func (c *Config) AxisValue() models.Axis {
	axis, err := models.ParseAxis(c.Processing.Axis)
	if err != nil {
		return models.AxisY
	}
	return axis
}

// AlignmentOptions converts the alignment section for alignment.New
func (c *Config) AlignmentOptions() alignment.Options {
	return alignment.Options{
		Engine:       c.Alignment.Engine,
		Command:      c.Alignment.Command,
		Args:         c.Alignment.Args,
		OutputPrefix: c.Alignment.OutputPrefix,
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

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
