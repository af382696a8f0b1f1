package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mriatlas/internal/cli"
	"mriatlas/internal/models"
	"mriatlas/pkg/config"
	"mriatlas/pkg/engine"
	"mriatlas/pkg/engine/memengine"
)

// setup creates ten subject files and an engine that knows their volumes.
func setup(t *testing.T) (*memengine.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e := memengine.New()
	for n := 1; n <= 10; n++ {
		p := filepath.Join(dir, fmt.Sprintf("KKI2009-%02d-MPRAGE.nii.gz", n))
		require.NoError(t, os.WriteFile(p, nil, 0644))
		v := models.NewVolume(2, 2, 2)
		for i := range v.Data {
			v.Data[i] = float64(n)
		}
		e.Put(p, v)
	}
	return e, dir
}

func runRegistration(t *testing.T, e *memengine.Engine, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	factory := func(*config.Config) (engine.Engine, error) { return e, nil }
	base := []string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "--output-dir", "out"}
	code := cli.Execute(newRootCmd(&stdout, factory), append(base, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestAffineRun(t *testing.T) {
	e, dir := setup(t)
	code, stdout, stderr := runRegistration(t, e, "--source-dir", dir,
		"KKI2009-05-MPRAGE.nii.gz", "1", "10", "a", "0", "0", "1")
	require.Equal(t, 0, code, stderr)

	assert.Len(t, e.Calls(), 9)
	v, ok := e.Written(filepath.Join("out", "1_10affineTemplate.nii.gz"))
	require.True(t, ok)
	assert.InDelta(t, 5.5, v.Data[0], 1e-12)
	assert.Contains(t, stdout, "ran 9 registrations, wrote 10 files")
	assert.Contains(t, stdout, "Aggregate statistics ("+filepath.Join("out", "1_10affineTemplate.nii.gz")+"):")
	assert.Contains(t, stdout, "Mean intensity: 5.500")
	assert.Contains(t, stdout, "Standard deviation: 0.000")
}

func TestRandomFixedFromConfig(t *testing.T) {
	e, dir := setup(t)
	cfg := config.DefaultConfig()
	cfg.SourceDir = dir
	cfg.OutputDir = "out"
	cfg.Registration.RandomFixed = true
	cfg.Registration.Seed = 7
	path := filepath.Join(t.TempDir(), "mriatlas.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))

	var stdout, stderr bytes.Buffer
	factory := func(*config.Config) (engine.Engine, error) { return e, nil }
	code := cli.Execute(newRootCmd(&stdout, factory),
		[]string{"--config", path, "KKI2009-01-MPRAGE.nii.gz", "1", "10", "x", "0", "1", "0"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	written := e.WrittenPaths()
	require.Len(t, written, 2)
	assert.Contains(t, written, filepath.Join("out", "initialTemplate.nii.gz"))
	assert.Contains(t, stdout.String(), "random subject is index: ")
}

func TestObserveRunWithWorkers(t *testing.T) {
	e, dir := setup(t)
	e.Put("affineTemplate.nii.gz", models.NewVolume(2, 2, 2))
	code, _, stderr := runRegistration(t, e, "--source-dir", dir, "--workers", "2", "--quiet",
		"affineTemplate.nii.gz", "2", "3", "d", "1", "0", "1")
	require.Equal(t, 0, code, stderr)

	assert.Equal(t, []string{
		filepath.Join("out", "forty2.nii.gz"),
		filepath.Join("out", "forty3.nii.gz"),
		filepath.Join("out", "sixty2.nii.gz"),
		filepath.Join("out", "sixty3.nii.gz"),
		filepath.Join("out", "twenty2.nii.gz"),
		filepath.Join("out", "twenty3.nii.gz"),
	}, e.WrittenPaths())
}

func TestUsageExitsZero(t *testing.T) {
	e, dir := setup(t)
	code, stdout, _ := runRegistration(t, e, "--source-dir", dir, "f", "1", "10")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "check parameters!")
	assert.Empty(t, e.WrittenPaths())
}

func TestUnknownModeExitsZero(t *testing.T) {
	e, dir := setup(t)
	code, stdout, _ := runRegistration(t, e, "--source-dir", dir, "f", "1", "10", "q", "0", "0", "1")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `unknown mode "q"`)
	assert.Empty(t, e.Calls())
}

func TestRangeErrorExitsOne(t *testing.T) {
	e, dir := setup(t)
	code, _, stderr := runRegistration(t, e, "--source-dir", dir,
		"KKI2009-05-MPRAGE.nii.gz", "1", "11", "a", "0", "0", "1")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "outside the 10 loaded images")
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mriatlas.yaml")
	code, stdout, _ := runRegistration(t, memengine.New(), "--write-default-config", path)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}
