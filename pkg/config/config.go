// Package config provides configuration loading and management for fiberseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fiberseg/internal/models"
	"fiberseg/pkg/regionprops"
	"fiberseg/pkg/ridge"
	"fiberseg/pkg/segmentation"
	"fiberseg/pkg/threshold"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Segmentation parameters
	Segmentation struct {
		// FiberChannel is the channel containing fibers
		FiberChannel string `yaml:"fiber_channel"`

		// Blur is the sigma of the initial Gaussian blur
		Blur float64 `yaml:"blur"`

		// ContrastScalingDivisor sets the adaptive histogram tile size to image height / divisor
		ContrastScalingDivisor int `yaml:"contrast_scaling_divisor"`

		// FiberWidths are the ridge filter scales in pixels
		FiberWidths []float64 `yaml:"fiber_widths"`

		// RidgeCutoff is the ridge response threshold
		RidgeCutoff float64 `yaml:"ridge_cutoff"`

		// SobelBlur is the sigma of the blur before the Sobel elevation map
		SobelBlur float64 `yaml:"sobel_blur"`

		// MinFiberSize is the smallest fiber area kept, in pixels
		MinFiberSize int `yaml:"min_fiber_size"`

		// ObjectProperties are the measured region properties
		ObjectProperties []string `yaml:"object_properties"`

		// RidgeFilter selects the ridge filter
		RidgeFilter string `yaml:"ridge_filter"`

		// ThresholdMethod selects the watershed marker threshold
		ThresholdMethod string `yaml:"threshold_method"`
	} `yaml:"segmentation"`

	// Processing parameters
	Processing struct {
		// Workers is the number of fovs processed concurrently
		Workers int `yaml:"workers"`
	} `yaml:"processing"`

	// Input parameters
	Input struct {
		// Dir holds one sub-directory per fov
		Dir string `yaml:"input_dir"`

		// ImageSubdir is an optional directory inside each fov holding the channel images
		ImageSubdir string `yaml:"image_subdir"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// Dir receives label images and the fiber object table
		Dir string `yaml:"output_dir"`

		// Debug saves intermediate stage images
		Debug bool `yaml:"debug"`
	} `yaml:"output"`

	// Postgres parameters; the table sink is disabled when DSN is empty
	Postgres struct {
		DSN     string `yaml:"dsn"`
		RunName string `yaml:"run_name"`
	} `yaml:"postgres"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"log_level"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default segmentation parameters
	cfg.Segmentation.FiberChannel = "Collagen1"
	cfg.Segmentation.Blur = 2
	cfg.Segmentation.ContrastScalingDivisor = 128
	cfg.Segmentation.FiberWidths = []float64{2, 4}
	cfg.Segmentation.RidgeCutoff = 0.1
	cfg.Segmentation.SobelBlur = 1
	cfg.Segmentation.MinFiberSize = 15
	cfg.Segmentation.ObjectProperties = append([]string(nil), regionprops.DefaultProperties...)
	cfg.Segmentation.RidgeFilter = ridge.DefaultFilter
	cfg.Segmentation.ThresholdMethod = threshold.DefaultMethod

	cfg.Processing.Workers = 1

	cfg.Input.Dir = "data"
	cfg.Output.Dir = "fiber_segmentation"
	cfg.Output.Debug = false

	cfg.Postgres.RunName = "fiberseg"

	cfg.Logging.Level = "info"

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

// Params converts the configuration into segmentation parameters
func (c *Config) Params() segmentation.Params {
	s := c.Segmentation
	return segmentation.Params{
		Channel:                s.FiberChannel,
		Blur:                   s.Blur,
		ContrastScalingDivisor: s.ContrastScalingDivisor,
		FiberWidths:            append([]float64(nil), s.FiberWidths...),
		RidgeCutoff:            s.RidgeCutoff,
		SobelBlur:              s.SobelBlur,
		MinFiberSize:           s.MinFiberSize,
		ObjectProperties:       append([]string(nil), s.ObjectProperties...),
		RidgeFilter:            s.RidgeFilter,
		ThresholdMethod:        s.ThresholdMethod,
		Debug:                  c.Output.Debug,
		Workers:                c.Processing.Workers,
		OutputDir:              c.Output.Dir,
	}
}

// LogLevel parses the configured log level
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Logging.Level))); err != nil {
		return 0, &models.ConfigError{Option: "log_level", Value: c.Logging.Level, Reason: "expected debug, info, warn or error"}
	}
	return level, nil
}

// Validate checks every option and returns the first invalid one as a *models.ConfigError
func (c *Config) Validate() error {
	params := c.Params()
	if err := params.Validate(); err != nil {
		return err
	}
	if c.Postgres.DSN != "" && c.Postgres.RunName == "" {
		return &models.ConfigError{Option: "postgres.run_name", Value: c.Postgres.RunName, Reason: "required when postgres.dsn is set"}
	}
	_, err := c.LogLevel()
	return err
}
