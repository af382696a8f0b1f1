package registration

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"mriatlas/pkg/accumulate"
	"mriatlas/pkg/engine"
	"mriatlas/pkg/naming"
)

// runAffine registers the range onto a subject from the source directory.
// The fixed subject itself is skipped, and the accumulator starts from the
// fixed image so the template includes it once.
func (p *Pipeline) runAffine(ctx context.Context) error {
	fixedPath := p.params.FixedImage
	if !filepath.IsAbs(fixedPath) {
		fixedPath = filepath.Join(p.params.SourceDir, fixedPath)
	}
	p.logf("affine registration of images %d to %d to fixed image %s", p.params.Lower, p.params.Upper, p.params.FixedImage)

	fixedSubject, err := p.params.Subjects.SubjectNumber(p.params.FixedImage)
	if err != nil {
		return err
	}
	ref, err := p.engine.ReadImage(ctx, fixedPath)
	if err != nil {
		return err
	}

	var indices []int
	for _, i := range p.rangeIndices() {
		if i+1 == fixedSubject {
			p.mu.Lock()
			p.report.Skipped = append(p.report.Skipped, i+1)
			p.mu.Unlock()
			p.logf("skipping %s: it is the fixed image", p.files[i])
			continue
		}
		indices = append(indices, i)
	}

	registered, err := p.forEach(ctx, indices, func(ctx context.Context, i int) (engine.Image, error) {
		name := p.files[i]
		out, err := p.register(ctx, ref, p.images[i], name, engine.AffineFast, nil)
		if err != nil {
			return nil, err
		}
		path, err := p.write(ctx, out, p.params.Namer.Affine(name), false)
		if err != nil {
			return nil, err
		}
		p.logf("wrote transformed image to %s", path)
		return out, nil
	})
	if err != nil {
		return err
	}

	sum, err := accumulate.Sum(ctx, p.engine, ref, registered...)
	if err != nil {
		return err
	}
	return p.writeAggregate(ctx, sum, naming.AffineTemplateKind, naming.AffineIntermediateKind, "affine template")
}

// runDeformable registers every subject in the range once with the full
// iteration budget. Unlike the affine stage the accumulator starts from the
// first registered image, not from the fixed image, and every registered
// image is then folded onto it, so the first one contributes twice.
func (p *Pipeline) runDeformable(ctx context.Context) error {
	p.logf("deformable registration of images %d to %d to fixed image %s", p.params.Lower, p.params.Upper, p.params.FixedImage)
	ref, err := p.engine.ReadImage(ctx, p.params.FixedImage)
	if err != nil {
		return err
	}

	iterations := []int{p.params.DeformableIterations}
	registered, err := p.forEach(ctx, p.rangeIndices(), func(ctx context.Context, i int) (engine.Image, error) {
		return p.register(ctx, ref, p.images[i], p.files[i], engine.ElasticSyN, iterations)
	})
	if err != nil {
		return err
	}
	if len(registered) == 0 {
		return errNoResults
	}

	sum, err := accumulate.Sum(ctx, p.engine, registered[0], registered...)
	if err != nil {
		return err
	}
	return p.writeAggregate(ctx, sum, naming.DeformableAtlasKind, naming.DeformableInterKind, "deformable atlas")
}

// runObserve runs the checkpoint cascade for every subject in the range.
// Each step registers the previous step's output, so the checkpoints show
// the result after cumulative iteration budgets. No aggregate is written.
func (p *Pipeline) runObserve(ctx context.Context) error {
	p.logf("deformable registration of images %d to %d to fixed image %s", p.params.Lower, p.params.Upper, p.params.FixedImage)
	ref, err := p.engine.ReadImage(ctx, p.params.FixedImage)
	if err != nil {
		return err
	}
	p.logf("observe = 1 --> writing intermediate transforms to images at %s", describeCheckpoints(p.params.Checkpoints))

	_, err = p.forEach(ctx, p.rangeIndices(), func(ctx context.Context, i int) (engine.Image, error) {
		return p.cascade(ctx, ref, i)
	})
	return err
}

// cascade runs the checkpoint steps for subject i and returns the last result.
func (p *Pipeline) cascade(ctx context.Context, ref engine.Image, i int) (engine.Image, error) {
	moving := p.images[i]
	label := p.files[i]
	total := 0
	for _, cp := range p.params.Checkpoints {
		out, err := p.register(ctx, ref, moving, label, engine.ElasticSyN, []int{cp.Iterations})
		if err != nil {
			return nil, err
		}
		total += cp.Iterations
		path, err := p.write(ctx, out, p.params.Namer.Checkpoint(cp.Name, i+1), false)
		if err != nil {
			return nil, err
		}
		p.logf("wrote result after %d iterations to %s", total, path)
		moving = out
		label = path
	}
	return moving, nil
}

// describeCheckpoints lists the cumulative iteration counts of the cascade.
func describeCheckpoints(cps []Checkpoint) string {
	parts := make([]string, len(cps))
	total := 0
	for i, cp := range cps {
		total += cp.Iterations
		parts[i] = strconv.Itoa(total)
	}
	return "iterations " + strings.Join(parts, ", ")
}
