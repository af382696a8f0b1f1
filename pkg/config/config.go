// Package config provides configuration loading and management for mriatlas.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mriatlas/pkg/naming"
)

// Checkpoint is one step of the observe cascade: a deformable registration
// with its own iteration budget whose result is written as <Name><subject>.
type Checkpoint struct {
	Name       string `yaml:"name"`
	Iterations int    `yaml:"iterations"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// SourceDir is the directory holding the subject volumes
	SourceDir string `yaml:"sourceDir"`

	// OutputDir receives every file the tools write
	OutputDir string `yaml:"outputDir"`

	// Extension is the file extension of written volumes
	Extension string `yaml:"extension"`

	// SubjectPattern extracts the subject number from a filename. It must
	// contain exactly one capture group.
	SubjectPattern string `yaml:"subjectPattern"`

	// Workers is the number of subjects registered concurrently
	Workers int `yaml:"workers"`

	// Engine parameters
	Engine struct {
		// Backend selects the registration engine: "ants" or "memory"
		Backend string `yaml:"backend"`

		// AntsPath is the directory holding the ANTs binaries; empty uses $PATH
		AntsPath string `yaml:"antsPath"`

		// Dimension is the image dimensionality
		Dimension int `yaml:"dimension"`

		// Threads caps ITK threads per tool invocation; 0 leaves the default
		Threads int `yaml:"threads"`

		// WorkDir holds derived images; empty uses a temporary directory
		WorkDir string `yaml:"workDir"`

		// KeepWorkDir leaves derived images on disk after the run
		KeepWorkDir bool `yaml:"keepWorkDir"`

		// Interpolation is the resampling interpolator
		Interpolation string `yaml:"interpolation"`
	} `yaml:"engine"`

	// Registration parameters
	Registration struct {
		// DeformableIterations is the SyN budget when observe is off
		DeformableIterations int `yaml:"deformableIterations"`

		// Checkpoints is the observe cascade, applied in order
		Checkpoints []Checkpoint `yaml:"checkpoints"`

		// RandomFixed writes a randomly chosen subject as randomFixedImage<N>
		// during initialization, as a candidate fixed image for the affine stage
		RandomFixed bool `yaml:"randomFixed"`

		// Seed seeds the random subject choice; 0 seeds from the clock
		Seed int64 `yaml:"seed"`
	} `yaml:"registration"`

	// Tracing parameters
	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		Exporter    string `yaml:"exporter"`
		FilePath    string `yaml:"filePath"`
		ServiceName string `yaml:"serviceName"`
	} `yaml:"tracing"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.SourceDir = "KKI2009-ALL-MPRAGE"
	cfg.OutputDir = "."
	cfg.Extension = naming.DefaultExtension
	cfg.SubjectPattern = naming.DefaultSubjectPattern
	cfg.Workers = 1

	cfg.Engine.Backend = "ants"
	cfg.Engine.Dimension = 3
	cfg.Engine.Interpolation = "Linear"

	cfg.Registration.DeformableIterations = 60
	cfg.Registration.Checkpoints = []Checkpoint{
		{Name: "twenty", Iterations: 20},
		{Name: "forty", Iterations: 20},
		{Name: "sixty", Iterations: 20},
	}

	cfg.Tracing.Exporter = "file"
	cfg.Tracing.FilePath = "mriatlas-traces.jsonl"
	cfg.Tracing.ServiceName = "mriatlas"

	return cfg
}

// Validate reports settings that cannot work
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	switch c.Engine.Backend {
	case "ants", "memory":
	default:
		return fmt.Errorf("unknown engine backend %q", c.Engine.Backend)
	}
	if c.Registration.DeformableIterations < 1 {
		return fmt.Errorf("deformableIterations must be positive, got %d", c.Registration.DeformableIterations)
	}
	if len(c.Registration.Checkpoints) == 0 {
		return fmt.Errorf("at least one checkpoint is required")
	}
	for _, cp := range c.Registration.Checkpoints {
		if cp.Name == "" || cp.Iterations < 1 {
			return fmt.Errorf("invalid checkpoint %+v", cp)
		}
	}
	if _, err := naming.NewParser(c.SubjectPattern); err != nil {
		return err
	}
	return nil
}

// LoadConfig loads configuration from a YAML file. Keys missing from the
// file keep their defaults, a missing or empty file yields DefaultConfig,
// and unknown keys are rejected.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
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
