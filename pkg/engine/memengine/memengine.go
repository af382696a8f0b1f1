// Package memengine is an engine.Engine that keeps every volume in memory.
//
// Images are seeded with Put and outputs are inspected with Written. The
// default resampler places the moving intensities on the fixed grid
// unchanged, which makes pipeline results easy to predict in tests and dry
// runs.
package memengine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"mriatlas/internal/models"
	"mriatlas/pkg/engine"
)

// Resampler produces the moving volume resampled onto the fixed grid.
type Resampler func(fixed, moving *models.Volume, ts engine.TransformSet) (*models.Volume, error)

// Loader produces the volume for a path that was neither Put nor written.
type Loader func(path string) (*models.Volume, error)

// Call records one Register invocation.
type Call struct {
	Kind       engine.TransformKind
	Fixed      string
	Moving     string
	Iterations []int
}

type image struct {
	vol    *models.Volume
	source string
}

func (i *image) Source() string { return i.source }

// Engine is an in-memory engine. It is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	files     map[string]*models.Volume
	written   map[string]*models.Volume
	calls     []Call
	seq       int
	resampler Resampler
	loader    Loader
	failOn    map[string]error
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{
		files:   make(map[string]*models.Volume),
		written: make(map[string]*models.Volume),
		failOn:  make(map[string]error),
	}
}

// SetResampler replaces the identity resampler.
func (e *Engine) SetResampler(r Resampler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resampler = r
}

// SetLoader sets the fallback used by ReadImage for unknown paths.
func (e *Engine) SetLoader(l Loader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loader = l
}

// StatLoader returns a Loader that reads every existing regular file as a
// unit volume of the given size. It lets dry runs walk real directories.
func StatLoader(x, y, z int) Loader {
	return func(path string) (*models.Volume, error) {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		v := models.NewVolume(x, y, z)
		for i := range v.Data {
			v.Data[i] = 1
		}
		return v, nil
	}
}

// FailRegistration makes every Register call whose moving image came from
// source return err.
func (e *Engine) FailRegistration(source string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOn[filepath.Clean(source)] = err
}

// Put stores v at path so it can be read back.
func (e *Engine) Put(path string, v *models.Volume) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[filepath.Clean(path)] = v.Clone()
}

// Written returns the volume last written to path.
func (e *Engine) Written(path string) (*models.Volume, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.written[filepath.Clean(path)]
	return v, ok
}

// WrittenPaths lists every path written so far, sorted.
func (e *Engine) WrittenPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	paths := make([]string, 0, len(e.written))
	for p := range e.written {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Calls returns the Register calls in the order they were made.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Volume exposes the volume behind a handle produced by this engine.
func (e *Engine) Volume(img engine.Image) (*models.Volume, error) {
	i, err := e.unwrap(img)
	if err != nil {
		return nil, err
	}
	return i.vol, nil
}

// ReadImage loads a volume stored with Put or written earlier.
func (e *Engine) ReadImage(_ context.Context, path string) (engine.Image, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := filepath.Clean(path)
	v, ok := e.written[key]
	if !ok {
		v, ok = e.files[key]
	}
	if ok {
		return &image{vol: v.Clone(), source: path}, nil
	}
	if e.loader == nil {
		return nil, &engine.LoadError{Path: path, Err: fs.ErrNotExist}
	}
	v, err := e.loader(path)
	if err != nil {
		return nil, &engine.LoadError{Path: path, Err: err}
	}
	return &image{vol: v, source: path}, nil
}

// WriteImage stores a copy of img at path.
func (e *Engine) WriteImage(_ context.Context, img engine.Image, path string) error {
	i, err := e.unwrap(img)
	if err != nil {
		return &engine.WriteError{Path: path, Err: err}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.written[filepath.Clean(path)] = i.vol.Clone()
	return nil
}

// Add returns a + b.
func (e *Engine) Add(_ context.Context, a, b engine.Image) (engine.Image, error) {
	ia, err := e.unwrap(a)
	if err != nil {
		return nil, &engine.ArithmeticError{Op: "add", Err: err}
	}
	ib, err := e.unwrap(b)
	if err != nil {
		return nil, &engine.ArithmeticError{Op: "add", Err: err}
	}
	sum, err := ia.vol.Add(ib.vol)
	if err != nil {
		return nil, &engine.ArithmeticError{Op: "add", Err: err}
	}
	return &image{vol: sum, source: e.derived("sum")}, nil
}

// Divide returns img / divisor.
func (e *Engine) Divide(_ context.Context, img engine.Image, divisor float64) (engine.Image, error) {
	i, err := e.unwrap(img)
	if err != nil {
		return nil, &engine.ArithmeticError{Op: "divide", Err: err}
	}
	q, err := i.vol.Divide(divisor)
	if err != nil {
		return nil, &engine.ArithmeticError{Op: "divide", Err: err}
	}
	return &image{vol: q, source: e.derived("quotient")}, nil
}

// Register records the call and returns a symbolic transform set.
func (e *Engine) Register(_ context.Context, fixed, moving engine.Image, kind engine.TransformKind, iterations []int) (engine.TransformSet, error) {
	f, err := e.unwrap(fixed)
	if err != nil {
		return engine.TransformSet{}, &engine.RegistrationError{Kind: kind, Err: err}
	}
	m, err := e.unwrap(moving)
	if err != nil {
		return engine.TransformSet{}, &engine.RegistrationError{Kind: kind, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{
		Kind:       kind,
		Fixed:      f.source,
		Moving:     m.source,
		Iterations: append([]int(nil), iterations...),
	})
	if failure, ok := e.failOn[filepath.Clean(m.source)]; ok {
		return engine.TransformSet{}, &engine.RegistrationError{Kind: kind, Fixed: f.source, Moving: m.source, Err: failure}
	}
	e.seq++
	prefix := fmt.Sprintf("mem://%d/", e.seq)
	ts := engine.TransformSet{Kind: kind, Iterations: append([]int(nil), iterations...)}
	if kind == engine.ElasticSyN {
		ts.Forward = append(ts.Forward, prefix+"1Warp.nii.gz")
	}
	ts.Forward = append(ts.Forward, prefix+"0GenericAffine.mat")
	return ts, nil
}

// ApplyTransforms resamples moving onto the fixed grid.
func (e *Engine) ApplyTransforms(_ context.Context, fixed, moving engine.Image, ts engine.TransformSet) (engine.Image, error) {
	f, err := e.unwrap(fixed)
	if err != nil {
		return nil, &engine.RegistrationError{Kind: ts.Kind, Err: err}
	}
	m, err := e.unwrap(moving)
	if err != nil {
		return nil, &engine.RegistrationError{Kind: ts.Kind, Err: err}
	}
	if len(ts.Forward) == 0 {
		return nil, &engine.RegistrationError{Kind: ts.Kind, Fixed: f.source, Moving: m.source, Err: fmt.Errorf("empty transform set")}
	}

	e.mu.Lock()
	resample := e.resampler
	e.mu.Unlock()

	var out *models.Volume
	if resample != nil {
		out, err = resample(f.vol, m.vol, ts)
	} else {
		out, err = identity(f.vol, m.vol)
	}
	if err != nil {
		return nil, &engine.RegistrationError{Kind: ts.Kind, Fixed: f.source, Moving: m.source, Err: err}
	}
	return &image{vol: out, source: m.source + " (resampled)"}, nil
}

// Summarize computes the mean and sample standard deviation of img.
func (e *Engine) Summarize(_ context.Context, img engine.Image) (engine.Stats, error) {
	i, err := e.unwrap(img)
	if err != nil {
		return engine.Stats{}, err
	}
	return engine.Stats{Mean: i.vol.Mean(), StdDev: i.vol.StdDev()}, nil
}

// Close is a no-op.
func (e *Engine) Close() error { return nil }

func identity(fixed, moving *models.Volume) (*models.Volume, error) {
	if !fixed.SameShape(moving) {
		return nil, fmt.Errorf("%w: moving %v, fixed %v", models.ErrShapeMismatch, moving.Dims, fixed.Dims)
	}
	return moving.WithGeometryOf(fixed), nil
}

func (e *Engine) unwrap(img engine.Image) (*image, error) {
	i, ok := img.(*image)
	if !ok || i == nil {
		return nil, fmt.Errorf("image %T was not produced by memengine", img)
	}
	return i, nil
}

func (e *Engine) derived(kind string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return fmt.Sprintf("mem://%s/%d", kind, e.seq)
}

var _ engine.Engine = (*Engine)(nil)
