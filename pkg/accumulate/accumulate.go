// Package accumulate folds images into sums and averages and implements the
// divide tool, which turns a list of registered images into a template.
package accumulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"mriatlas/pkg/engine"
	"mriatlas/pkg/naming"
)

// ErrInvalidKind is returned by Run for a template type other than a or d.
// The images have been read and divided by then, but nothing was written.
var ErrInvalidKind = errors.New("invalid option")

// Sum folds images into seed from left to right and returns the new total.
// seed is never modified.
func Sum(ctx context.Context, e engine.Engine, seed engine.Image, images ...engine.Image) (engine.Image, error) {
	acc := seed
	for _, img := range images {
		next, err := e.Add(ctx, acc, img)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}

// Mean returns the sum of images divided by their count.
func Mean(ctx context.Context, e engine.Engine, images []engine.Image) (engine.Image, error) {
	if len(images) == 0 {
		return nil, errors.New("mean of zero images")
	}
	sum, err := Sum(ctx, e, images[0], images[1:]...)
	if err != nil {
		return nil, err
	}
	return e.Divide(ctx, sum, float64(len(images)))
}

// Kind selects which template the divide tool produces.
type Kind string

const (
	// Affine produces affineTemplate
	Affine Kind = "a"
	// Deformable produces deformableAtlas
	Deformable Kind = "d"
)

// Request describes one divide invocation.
type Request struct {
	// Kind is the template type tag as given on the command line
	Kind Kind

	// Divisor is the constant the sum is divided by
	Divisor float64

	// Paths lists the images to add, in order
	Paths []string

	// OutputDir receives the template. Empty means the working directory.
	OutputDir string

	// Namer derives the template filename
	Namer naming.Namer
}

// Run reads every image in req, computes sum / divisor and writes the
// result to the kind-specific template file. It returns the written path.
func Run(ctx context.Context, e engine.Engine, req Request, progress io.Writer) (string, error) {
	if progress == nil {
		progress = io.Discard
	}
	if len(req.Paths) == 0 {
		return "", errors.New("no images given")
	}
	if req.Namer.Ext == "" {
		req.Namer = naming.NewNamer("")
	}

	switch req.Kind {
	case Affine:
		fmt.Fprintln(progress, "loading images for affine template")
	case Deformable:
		fmt.Fprintln(progress, "loading images for deformable atlas")
	}

	images := make([]engine.Image, 0, len(req.Paths))
	for _, p := range req.Paths {
		img, err := e.ReadImage(ctx, p)
		if err != nil {
			return "", err
		}
		images = append(images, img)
	}

	sum, err := Sum(ctx, e, images[0], images[1:]...)
	if err != nil {
		return "", err
	}
	out, err := e.Divide(ctx, sum, req.Divisor)
	if err != nil {
		return "", err
	}

	var name string
	switch req.Kind {
	case Affine:
		fmt.Fprintln(progress, "writing affine template...")
		name = req.Namer.AffineTemplate()
	case Deformable:
		fmt.Fprintln(progress, "writing deformable atlas...")
		name = req.Namer.DeformableAtlas()
	default:
		return "", ErrInvalidKind
	}

	path := filepath.Join(req.OutputDir, name)
	if err := e.WriteImage(ctx, out, path); err != nil {
		return "", err
	}
	fmt.Fprintln(progress, "done")
	return path, nil
}
