// Package engine defines the contract between the atlas pipelines and the
// image registration library that does the actual work.
//
// The pipelines never touch voxels directly. Reading, writing, arithmetic,
// registration and resampling are all delegated to an Engine. Two backends
// are provided: pkg/engine/ants, which drives the ANTs command-line tools,
// and pkg/engine/memengine, which keeps volumes in memory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Image is a handle to a volume owned by an Engine. Handles are only
// meaningful to the engine that produced them.
type Image interface {
	// Source describes where the image came from, for progress output
	Source() string
}

// TransformKind selects the registration model.
type TransformKind int

const (
	// AffineFast is a fast rigid + affine registration
	AffineFast TransformKind = iota
	// ElasticSyN is an affine registration followed by a SyN deformable stage
	ElasticSyN
)

// String returns the name the registration library uses for the kind.
func (k TransformKind) String() string {
	switch k {
	case AffineFast:
		return "AffineFast"
	case ElasticSyN:
		return "ElasticSyN"
	default:
		return fmt.Sprintf("TransformKind(%d)", int(k))
	}
}

// TransformSet is the ordered list of forward transforms produced by a
// registration, ready to be handed to ApplyTransforms.
type TransformSet struct {
	// Kind is the registration model that produced the transforms
	Kind TransformKind

	// Iterations is the iteration schedule used for the deformable stage,
	// empty when the backend default was used
	Iterations []int

	// Forward holds transform file references, outermost first
	Forward []string
}

// String joins the forward transforms for logging
func (ts TransformSet) String() string {
	return ts.Kind.String() + "[" + strings.Join(ts.Forward, ",") + "]"
}

// Engine is the registration backend.
type Engine interface {
	// ReadImage loads the image stored at path.
	ReadImage(ctx context.Context, path string) (Image, error)

	// WriteImage stores img at path, replacing any existing file.
	WriteImage(ctx context.Context, img Image, path string) error

	// Add returns the voxel-wise sum a + b with the spatial metadata of a.
	Add(ctx context.Context, a, b Image) (Image, error)

	// Divide returns img / divisor with the spatial metadata of img.
	Divide(ctx context.Context, img Image, divisor float64) (Image, error)

	// Register aligns moving onto fixed. iterations overrides the deformable
	// iteration schedule; nil keeps the backend default.
	Register(ctx context.Context, fixed, moving Image, kind TransformKind, iterations []int) (TransformSet, error)

	// ApplyTransforms resamples moving onto the grid of fixed through ts.
	ApplyTransforms(ctx context.Context, fixed, moving Image, ts TransformSet) (Image, error)

	// Close releases temporary resources held by the engine.
	Close() error
}

// WriteAndReopen writes img to path and returns a handle to the written
// file, so later steps read back exactly what is on disk.
func WriteAndReopen(ctx context.Context, e Engine, img Image, path string) (Image, error) {
	if err := e.WriteImage(ctx, img, path); err != nil {
		return nil, err
	}
	return e.ReadImage(ctx, path)
}

// Stats summarizes the voxel intensities of an image.
type Stats struct {
	Mean   float64
	StdDev float64
}

// Summarizer is implemented by engines that can compute intensity
// statistics of their images.
type Summarizer interface {
	Summarize(ctx context.Context, img Image) (Stats, error)
}

// ErrUnsupported is returned for optional operations an engine lacks.
var ErrUnsupported = errors.New("operation not supported by engine")

// Summarize returns the intensity statistics of img, or ErrUnsupported
// when e is not a Summarizer.
func Summarize(ctx context.Context, e Engine, img Image) (Stats, error) {
	s, ok := e.(Summarizer)
	if !ok {
		return Stats{}, ErrUnsupported
	}
	return s.Summarize(ctx, img)
}
