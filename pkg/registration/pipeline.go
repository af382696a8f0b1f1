// Package registration runs the batch registration pipeline that builds
// affine templates and deformable atlases from a directory of MRI volumes.
//
// A run goes through up to five stages:
//  1. Load every non-hidden file of the source directory in name order
//  2. Optionally write the unweighted average of all loaded images, and a
//     randomly chosen subject as a candidate fixed image
//  3. Dispatch on the mode
//  4. Register the selected range affinely or deformably
//  5. Optionally divide the accumulated range into a template or atlas
//
// The numeric range indexes the sorted listing, so the filename order is
// what makes runs reproducible.
package registration

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mriatlas/pkg/accumulate"
	"mriatlas/pkg/engine"
)

// Report summarizes what a run did.
type Report struct {
	// Loaded is the number of images read from the source directory
	Loaded int

	// Registrations is the number of Register calls made
	Registrations int

	// Skipped holds the 1-based positions excluded from registration
	Skipped []int

	// RandomFixed is the 1-based position copied as the random fixed
	// image, 0 when none was chosen
	RandomFixed int

	// Aggregate is the path of the template, atlas or intermediate sum
	Aggregate string

	// AggregateStats summarizes Aggregate when the engine can compute it
	AggregateStats *engine.Stats

	// Written lists every output file in the order it was written
	Written []string
}

// Pipeline runs one configured registration job.
type Pipeline struct {
	params Params
	engine engine.Engine

	files  []string
	images []engine.Image

	mu     sync.Mutex
	report Report
}

// NewPipeline creates a pipeline for params using e for all image work.
func NewPipeline(params Params, e engine.Engine) *Pipeline {
	return &Pipeline{
		params: params.withDefaults(),
		engine: e,
	}
}

// Process runs the pipeline stages in order and stops at the first error.
// Files written before a failure are left in place.
func (p *Pipeline) Process(ctx context.Context) error {
	p.logf("Step 1: Loading images from %s...", p.params.SourceDir)
	if err := p.loadImages(ctx); err != nil {
		return fmt.Errorf("failed to load images: %w", err)
	}

	if p.params.Initialize {
		p.logf("Step 2: Building initial template...")
		if err := p.buildInitialTemplate(ctx); err != nil {
			return fmt.Errorf("failed to build initial template: %w", err)
		}
		if p.params.RandomFixed {
			if err := p.writeRandomFixed(ctx); err != nil {
				return fmt.Errorf("failed to write random fixed image: %w", err)
			}
		}
	}

	switch p.params.Mode {
	case ModeAffine:
		if err := p.checkRange(); err != nil {
			return err
		}
		p.logf("Step 3: Affine registration...")
		return p.runAffine(ctx)
	case ModeDeformable:
		if err := p.checkRange(); err != nil {
			return err
		}
		p.logf("Step 3: Deformable registration...")
		if p.params.Observe {
			return p.runObserve(ctx)
		}
		return p.runDeformable(ctx)
	default:
		p.logf("unknown mode %q: nothing to register", p.params.Mode)
		return nil
	}
}

// Report returns a copy of the run summary.
func (p *Pipeline) Report() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.report
	r.Skipped = append([]int(nil), p.report.Skipped...)
	r.Written = append([]string(nil), p.report.Written...)
	if p.report.AggregateStats != nil {
		stats := *p.report.AggregateStats
		r.AggregateStats = &stats
	}
	return r
}

// Files returns the sorted source filenames, indexed like the images.
func (p *Pipeline) Files() []string {
	return append([]string(nil), p.files...)
}

// loadImages reads every non-hidden regular file in the source directory.
// Names are sorted so that positions are stable across runs.
func (p *Pipeline) loadImages(ctx context.Context) error {
	files, err := listSubjects(p.params.SourceDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", p.params.SourceDir)
	}

	images := make([]engine.Image, 0, len(files))
	for _, name := range files {
		img, err := p.engine.ReadImage(ctx, filepath.Join(p.params.SourceDir, name))
		if err != nil {
			return err
		}
		images = append(images, img)
	}

	p.files = files
	p.images = images
	p.mu.Lock()
	p.report.Loaded = len(images)
	p.mu.Unlock()
	p.logf("loaded %d images", len(images))
	return nil
}

// listSubjects returns the sorted names of the visible files in dir.
func listSubjects(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// buildInitialTemplate writes sum(all) / count(all), independent of range.
func (p *Pipeline) buildInitialTemplate(ctx context.Context) error {
	avg, err := accumulate.Mean(ctx, p.engine, p.images)
	if err != nil {
		return err
	}
	path, err := p.write(ctx, avg, p.params.Namer.InitialTemplate(), true)
	if err != nil {
		return err
	}
	p.logf("wrote initial template to %s", path)
	return nil
}

// writeRandomFixed copies one subject, chosen uniformly at random, to
// randomFixedImage<N> where N is its 1-based position.
func (p *Pipeline) writeRandomFixed(ctx context.Context) error {
	seed := p.params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	k := rng.Intn(len(p.images))
	p.logf("random subject is index: %d", k)

	path, err := p.write(ctx, p.images[k], p.params.Namer.RandomFixed(k+1), false)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.report.RandomFixed = k + 1
	p.mu.Unlock()
	p.logf("wrote random subject %d (%s) to %s", k+1, p.files[k], path)
	return nil
}

func (p *Pipeline) checkRange() error {
	l, u, n := p.params.Lower, p.params.Upper, len(p.images)
	if l < 1 || u < l || u > n {
		return &RangeError{Lower: l, Upper: u, Count: n}
	}
	return nil
}

// rangeIndices returns the 0-based positions covered by the range.
func (p *Pipeline) rangeIndices() []int {
	idx := make([]int, 0, p.params.Upper-p.params.Lower+1)
	for i := p.params.Lower - 1; i < p.params.Upper; i++ {
		idx = append(idx, i)
	}
	return idx
}

// rangeLength is the divisor used for range aggregates.
func (p *Pipeline) rangeLength() float64 {
	return float64(p.params.Upper - p.params.Lower + 1)
}

// register aligns moving onto fixed and returns the resampled image.
func (p *Pipeline) register(ctx context.Context, fixed, moving engine.Image, label string, kind engine.TransformKind, iterations []int) (engine.Image, error) {
	ts, err := p.engine.Register(ctx, fixed, moving, kind, iterations)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.report.Registrations++
	p.mu.Unlock()
	p.logf("%s registered %s", registeredVerb(kind), label)

	out, err := p.engine.ApplyTransforms(ctx, fixed, moving, ts)
	if err != nil {
		return nil, err
	}
	p.logf("applied transforms to %s", label)
	return out, nil
}

func registeredVerb(kind engine.TransformKind) string {
	if kind == engine.AffineFast {
		return "affinely"
	}
	return "deformably"
}

// write stores img under the output directory and records it. With reopen
// the returned handle points at the written file.
func (p *Pipeline) write(ctx context.Context, img engine.Image, name string, reopen bool) (string, error) {
	path := filepath.Join(p.params.OutputDir, name)
	var err error
	if reopen {
		_, err = engine.WriteAndReopen(ctx, p.engine, img, path)
	} else {
		err = p.engine.WriteImage(ctx, img, path)
	}
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.report.Written = append(p.report.Written, path)
	p.mu.Unlock()
	return path, nil
}

// forEach runs fn for every index on at most Workers goroutines. Results
// come back in the order of indices regardless of completion order, and
// the first error cancels the remaining work.
func (p *Pipeline) forEach(ctx context.Context, indices []int, fn func(ctx context.Context, i int) (engine.Image, error)) ([]engine.Image, error) {
	results := make([]engine.Image, len(indices))
	if p.params.Workers == 1 {
		for k, i := range indices {
			out, err := fn(ctx, i)
			if err != nil {
				return nil, err
			}
			results[k] = out
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.params.Workers)
	for k, i := range indices {
		k, i := k, i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := fn(gctx, i)
			if err != nil {
				return err
			}
			results[k] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// writeAggregate writes the accumulated range either divided by the range
// length (as divKind) or raw (as rawKind).
func (p *Pipeline) writeAggregate(ctx context.Context, sum engine.Image, divKind, rawKind, what string) error {
	l, u := p.params.Lower, p.params.Upper
	if p.params.Divide {
		avg, err := p.engine.Divide(ctx, sum, p.rangeLength())
		if err != nil {
			return err
		}
		path, err := p.write(ctx, avg, p.params.Namer.Ranged(l, u, divKind), true)
		if err != nil {
			return err
		}
		p.logf("wrote %s for images %d to %d to %s", what, l, u, path)
		p.summarize(ctx, avg, path)
		return nil
	}

	path, err := p.write(ctx, sum, p.params.Namer.Ranged(l, u, rawKind), true)
	if err != nil {
		return err
	}
	p.logf("wrote intermediate result for images %d to %d to %s", l, u, path)
	p.summarize(ctx, sum, path)
	return nil
}

// summarize records the intensity statistics of the aggregate written to
// path. Engines without statistics leave AggregateStats nil.
func (p *Pipeline) summarize(ctx context.Context, img engine.Image, path string) {
	stats, err := engine.Summarize(ctx, p.engine, img)
	p.mu.Lock()
	p.report.Aggregate = path
	if err == nil {
		p.report.AggregateStats = &stats
	}
	p.mu.Unlock()
	if err != nil && !errors.Is(err, engine.ErrUnsupported) {
		p.logf("could not summarize %s: %v", path, err)
	}
}

func (p *Pipeline) logf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.params.Progress, format+"\n", args...)
}

// errNoResults guards the deformable fold against an empty range.
var errNoResults = errors.New("no registered images to accumulate")
