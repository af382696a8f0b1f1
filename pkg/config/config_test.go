package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("Expected defaults (-want +got):\n%s", diff)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mriatlas.yaml")
	content := `
sourceDir: /data/KKI2009-ALL-MPRAGE
workers: 4
engine:
  backend: memory
registration:
  deformableIterations: 90
  randomFixed: true
  seed: 42
  checkpoints:
    - name: thirty
      iterations: 30
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.SourceDir != "/data/KKI2009-ALL-MPRAGE" {
		t.Errorf("Expected source dir override, got %q", cfg.SourceDir)
	}
	if cfg.Workers != 4 || cfg.Engine.Backend != "memory" {
		t.Errorf("Unexpected workers/backend %d/%q", cfg.Workers, cfg.Engine.Backend)
	}
	if cfg.Registration.DeformableIterations != 90 {
		t.Errorf("Expected 90 iterations, got %d", cfg.Registration.DeformableIterations)
	}
	if !cfg.Registration.RandomFixed || cfg.Registration.Seed != 42 {
		t.Errorf("Expected randomFixed with seed 42, got %v / %d", cfg.Registration.RandomFixed, cfg.Registration.Seed)
	}
	want := []Checkpoint{{Name: "thirty", Iterations: 30}}
	if diff := cmp.Diff(want, cfg.Registration.Checkpoints); diff != "" {
		t.Errorf("Checkpoints mismatch (-want +got):\n%s", diff)
	}
	// keys absent from the file keep their defaults
	if cfg.Extension != ".nii.gz" || cfg.Engine.Dimension != 3 {
		t.Errorf("Expected defaults for unset keys, got %q / %d", cfg.Extension, cfg.Engine.Dimension)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("workers: [oops"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("Round trip changed config (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, false},
		{"unknown backend", func(c *Config) { c.Engine.Backend = "elastix" }, false},
		{"no checkpoints", func(c *Config) { c.Registration.Checkpoints = nil }, false},
		{"bad checkpoint", func(c *Config) { c.Registration.Checkpoints[0].Iterations = 0 }, false},
		{"zero iterations", func(c *Config) { c.Registration.DeformableIterations = 0 }, false},
		{"bad pattern", func(c *Config) { c.SubjectPattern = `\d+` }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	if err := os.WriteFile(path, []byte("worker: 4\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("Expected unknown key error")
	}
}

func TestLoadConfigEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("Expected defaults (-want +got):\n%s", diff)
	}
}

func TestSavedKeysAreLowerCamel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	for _, key := range []string{"sourceDir:", "subjectPattern:", "keepWorkDir:", "deformableIterations:", "randomFixed:", "serviceName:"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Expected key %s in saved config:\n%s", key, data)
		}
	}
	if strings.Contains(string(data), "source_dir") {
		t.Errorf("Saved config still uses snake_case keys:\n%s", data)
	}
}
