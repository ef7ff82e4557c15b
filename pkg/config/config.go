// Package config provides configuration loading and management for medimagetools.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"medimagetools/internal/models"
	"medimagetools/pkg/roimatch"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers is how many samples are processed concurrently
		NumWorkers int `yaml:"numWorkers"`

		// Modalities is the comma separated modality query, e.g. "CT,RTSTRUCT"
		Modalities string `yaml:"modalities"`

		// GroupBy selects how series are grouped into samples: reference, study or patient
		GroupBy string `yaml:"groupBy"`

		// Branches emits one sample per root-to-leaf path instead of one per tree
		Branches bool `yaml:"branches"`

		// Subseries keeps every image series of a modality in a sample
		Subseries bool `yaml:"subseries"`

		// ContinuousIndex keeps fractional indices when rasterizing contours
		ContinuousIndex bool `yaml:"continuousIndex"`

		// Filler is the polygon fill rule: scanline or coverage
		Filler string `yaml:"filler"`

		// CoverageThreshold is the pixel coverage needed by the coverage filler
		CoverageThreshold float64 `yaml:"coverageThreshold"`
	} `yaml:"processing"`

	// Crawl parameters
	Crawl struct {
		// ForceRecrawl ignores a cached crawl index
		ForceRecrawl bool `yaml:"forceRecrawl"`

		// CacheDir holds crawl.csv and crawl.json; defaults to <output>/.imgtools
		CacheDir string `yaml:"cacheDir"`

		// NumWorkers is how many files are parsed concurrently while crawling
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"crawl"`

	// ROI matching parameters
	ROIMatching struct {
		MatchMap             roimatch.MatchMap `yaml:"matchMap"`
		IgnoreCase           bool              `yaml:"ignoreCase"`
		HandlingStrategy     string            `yaml:"handlingStrategy"`
		AllowMultiKeyMatches bool              `yaml:"allowMultiKeyMatches"`
		OnMissingRegex       string            `yaml:"onMissingRegex"`
	} `yaml:"roiMatching"`

	// Output parameters
	Output struct {
		Directory string `yaml:"directory"`

		// Compress writes .nii.gz instead of .nii
		Compress bool `yaml:"compress"`

		// QASnapshots writes a PNG of the busiest slice of every mask channel
		QASnapshots bool `yaml:"qaSnapshots"`

		// MetricsFile receives Prometheus text metrics after the run when set
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB"`
		MaxAgeDays int    `yaml:"maxAgeDays"`
		MaxBackups int    `yaml:"maxBackups"`
		JSON       bool   `yaml:"json"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Modalities = "CT,RTSTRUCT"
	cfg.Processing.GroupBy = "reference"
	cfg.Processing.Filler = "scanline"
	cfg.Processing.CoverageThreshold = 0.5

	cfg.Crawl.NumWorkers = runtime.NumCPU()

	cfg.ROIMatching.MatchMap = roimatch.DefaultMatchMap()
	cfg.ROIMatching.IgnoreCase = true
	cfg.ROIMatching.HandlingStrategy = roimatch.Merge.String()
	cfg.ROIMatching.OnMissingRegex = roimatch.Warn.String()

	cfg.Output.Directory = "output"
	cfg.Output.Compress = true

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxAgeDays = 28
	cfg.Logging.MaxBackups = 3

	return cfg
}

// CacheDir returns the crawl cache directory, defaulting under the output directory.
func (c *Config) CacheDir() string {
	if c.Crawl.CacheDir != "" {
		return c.Crawl.CacheDir
	}
	return filepath.Join(c.Output.Directory, ".imgtools")
}

// MatcherOptions converts the roiMatching section.
func (c *Config) MatcherOptions() (roimatch.Options, error) {
	strategy, err := roimatch.ParseStrategy(c.ROIMatching.HandlingStrategy)
	if err != nil {
		return roimatch.Options{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	onMissing, err := roimatch.ParseMissingPolicy(c.ROIMatching.OnMissingRegex)
	if err != nil {
		return roimatch.Options{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return roimatch.Options{
		IgnoreCase:           c.ROIMatching.IgnoreCase,
		Strategy:             strategy,
		AllowMultiKeyMatches: c.ROIMatching.AllowMultiKeyMatches,
		OnMissing:            onMissing,
	}, nil
}

// Validate checks values that cannot be caught while parsing YAML
func (c *Config) Validate() error {
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("%w: processing.numWorkers must be at least 1", ErrInvalidConfig)
	}
	if c.Crawl.NumWorkers < 1 {
		return fmt.Errorf("%w: crawl.numWorkers must be at least 1", ErrInvalidConfig)
	}
	if _, err := models.ParseModalityList(c.Processing.Modalities); err != nil {
		return fmt.Errorf("%w: processing.modalities: %v", ErrInvalidConfig, err)
	}
	switch c.Processing.Filler {
	case "scanline", "coverage":
	default:
		return fmt.Errorf("%w: processing.filler must be scanline or coverage, got %q", ErrInvalidConfig, c.Processing.Filler)
	}
	if c.Processing.CoverageThreshold <= 0 || c.Processing.CoverageThreshold > 1 {
		return fmt.Errorf("%w: processing.coverageThreshold must be in (0, 1]", ErrInvalidConfig)
	}
	if _, err := c.MatcherOptions(); err != nil {
		return err
	}
	if len(c.ROIMatching.MatchMap) == 0 {
		return fmt.Errorf("%w: roiMatching.matchMap is empty", ErrInvalidConfig)
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("%w: output.directory is empty", ErrInvalidConfig)
	}
	return nil
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
