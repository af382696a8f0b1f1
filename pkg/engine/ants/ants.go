// Package ants implements engine.Engine on top of the ANTs command-line
// tools (antsRegistration, antsApplyTransforms, ImageMath, PrintHeader).
//
// Images are files. Inputs are referenced where they are; every derived
// image (sums, quotients, resampled volumes, transforms) is written into a
// per-run work directory that Close removes.
package ants

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"mriatlas/pkg/engine"
)

// Options configures the ANTs backend.
type Options struct {
	// Dimension is the image dimensionality passed to every tool
	Dimension int

	// WorkDir is where derived images are written. Empty means a fresh
	// directory under os.TempDir().
	WorkDir string

	// KeepWorkDir leaves the work directory in place after Close
	KeepWorkDir bool

	// Interpolation is the antsApplyTransforms interpolator
	Interpolation string

	// Extension is the file extension used for derived images
	Extension string
}

// DefaultOptions returns options for 3D NIfTI volumes.
func DefaultOptions() Options {
	return Options{
		Dimension:     3,
		Interpolation: "Linear",
		Extension:     ".nii.gz",
	}
}

type image struct {
	path string
	dims []int
}

func (i *image) Source() string { return i.path }

// Engine drives the ANTs tools through a Runner.
type Engine struct {
	opts    Options
	runner  Runner
	workDir string
	ownsDir bool
}

// New creates an engine and its work directory.
func New(opts Options, runner Runner) (*Engine, error) {
	if opts.Dimension == 0 {
		opts.Dimension = 3
	}
	if opts.Interpolation == "" {
		opts.Interpolation = "Linear"
	}
	if opts.Extension == "" {
		opts.Extension = ".nii.gz"
	}

	e := &Engine{opts: opts, runner: runner}
	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		e.workDir = opts.WorkDir
	} else {
		dir, err := os.MkdirTemp("", "mriatlas-ants-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		e.workDir = dir
		e.ownsDir = true
	}
	return e, nil
}

// WorkDir returns the directory holding derived images.
func (e *Engine) WorkDir() string { return e.workDir }

// ReadImage checks that path is a readable image and returns a handle to it.
func (e *Engine) ReadImage(ctx context.Context, path string) (engine.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &engine.LoadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &engine.LoadError{Path: path, Err: fmt.Errorf("is a directory")}
	}
	dims, err := e.size(ctx, path)
	if err != nil {
		return nil, &engine.LoadError{Path: path, Err: err}
	}
	return &image{path: path, dims: dims}, nil
}

// WriteImage copies the file behind img to path.
func (e *Engine) WriteImage(_ context.Context, img engine.Image, path string) error {
	src, err := e.unwrap(img)
	if err != nil {
		return &engine.WriteError{Path: path, Err: err}
	}
	if err := copyFile(src.path, path); err != nil {
		return &engine.WriteError{Path: path, Err: err}
	}
	return nil
}

// Add runs ImageMath + on a and b.
func (e *Engine) Add(ctx context.Context, a, b engine.Image) (engine.Image, error) {
	ia, err := e.unwrap(a)
	if err != nil {
		return nil, &engine.ArithmeticError{Op: "add", Err: err}
	}
	ib, err := e.unwrap(b)
	if err != nil {
		return nil, &engine.ArithmeticError{Op: "add", Err: err}
	}
	if ia.dims != nil && ib.dims != nil && !slices.Equal(ia.dims, ib.dims) {
		return nil, &engine.ArithmeticError{Op: "add", Err: fmt.Errorf("shapes differ: %v vs %v", ia.dims, ib.dims)}
	}

	out := e.derivedPath("sum", e.opts.Extension)
	if _, err := e.runner.Run(ctx, "ImageMath", strconv.Itoa(e.opts.Dimension), out, "+", ia.path, ib.path); err != nil {
		return nil, &engine.ArithmeticError{Op: "add", Err: err}
	}
	return &image{path: out, dims: ia.dims}, nil
}

// Divide runs ImageMath / on img with a constant divisor.
func (e *Engine) Divide(ctx context.Context, img engine.Image, divisor float64) (engine.Image, error) {
	i, err := e.unwrap(img)
	if err != nil {
		return nil, &engine.ArithmeticError{Op: "divide", Err: err}
	}
	if divisor == 0 {
		return nil, &engine.ArithmeticError{Op: "divide", Err: errors.New("division by zero")}
	}

	out := e.derivedPath("quotient", e.opts.Extension)
	k := strconv.FormatFloat(divisor, 'g', -1, 64)
	if _, err := e.runner.Run(ctx, "ImageMath", strconv.Itoa(e.opts.Dimension), out, "/", i.path, k); err != nil {
		return nil, &engine.ArithmeticError{Op: "divide", Err: err}
	}
	return &image{path: out, dims: i.dims}, nil
}

// Register runs antsRegistration and returns the forward transforms.
func (e *Engine) Register(ctx context.Context, fixed, moving engine.Image, kind engine.TransformKind, iterations []int) (engine.TransformSet, error) {
	f, err := e.unwrap(fixed)
	if err != nil {
		return engine.TransformSet{}, &engine.RegistrationError{Kind: kind, Err: err}
	}
	m, err := e.unwrap(moving)
	if err != nil {
		return engine.TransformSet{}, &engine.RegistrationError{Kind: kind, Err: err}
	}

	prefix := e.derivedPath("reg", "_")
	args, err := registrationArgs(e.opts.Dimension, f.path, m.path, prefix, kind, iterations)
	if err != nil {
		return engine.TransformSet{}, &engine.RegistrationError{Kind: kind, Fixed: f.path, Moving: m.path, Err: err}
	}
	if _, err := e.runner.Run(ctx, "antsRegistration", args...); err != nil {
		return engine.TransformSet{}, &engine.RegistrationError{Kind: kind, Fixed: f.path, Moving: m.path, Err: err}
	}
	return engine.TransformSet{
		Kind:       kind,
		Iterations: append([]int(nil), iterations...),
		Forward:    forwardTransforms(prefix, kind),
	}, nil
}

// ApplyTransforms runs antsApplyTransforms to resample moving onto fixed.
func (e *Engine) ApplyTransforms(ctx context.Context, fixed, moving engine.Image, ts engine.TransformSet) (engine.Image, error) {
	f, err := e.unwrap(fixed)
	if err != nil {
		return nil, &engine.RegistrationError{Kind: ts.Kind, Err: err}
	}
	m, err := e.unwrap(moving)
	if err != nil {
		return nil, &engine.RegistrationError{Kind: ts.Kind, Err: err}
	}
	if len(ts.Forward) == 0 {
		return nil, &engine.RegistrationError{Kind: ts.Kind, Fixed: f.path, Moving: m.path, Err: errors.New("empty transform set")}
	}

	out := e.derivedPath("warped", e.opts.Extension)
	args := applyArgs(e.opts.Dimension, f.path, m.path, out, e.opts.Interpolation, ts.Forward)
	if _, err := e.runner.Run(ctx, "antsApplyTransforms", args...); err != nil {
		return nil, &engine.RegistrationError{Kind: ts.Kind, Fixed: f.path, Moving: m.path, Err: err}
	}
	return &image{path: out, dims: f.dims}, nil
}

// Close removes the work directory unless it was supplied or kept.
func (e *Engine) Close() error {
	if !e.ownsDir || e.opts.KeepWorkDir {
		return nil
	}
	return os.RemoveAll(e.workDir)
}

func (e *Engine) size(ctx context.Context, path string) ([]int, error) {
	out, err := e.runner.Run(ctx, "PrintHeader", path, "2")
	if err != nil {
		return nil, err
	}
	return parseSize(out)
}

func (e *Engine) derivedPath(kind, suffix string) string {
	return filepath.Join(e.workDir, kind+"-"+uuid.NewString()+suffix)
}

func (e *Engine) unwrap(img engine.Image) (*image, error) {
	i, ok := img.(*image)
	if !ok || i == nil {
		return nil, fmt.Errorf("image %T was not produced by the ANTs engine", img)
	}
	return i, nil
}

func copyFile(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var _ engine.Engine = (*Engine)(nil)
