package registration

import (
	"fmt"
	"io"

	"mriatlas/pkg/naming"
)

// Mode selects which registration stage a run performs.
type Mode string

const (
	// ModeAffine registers the range affinely onto a subject from the source directory
	ModeAffine Mode = "a"
	// ModeDeformable registers the range deformably onto an existing template
	ModeDeformable Mode = "d"
)

// Checkpoint is one step of the observe cascade. Each step registers the
// previous step's output for Iterations iterations and writes the result
// as <Name><subject><ext>.
type Checkpoint struct {
	Name       string
	Iterations int
}

// DefaultCheckpoints writes results after 20, 40 and 60 cumulative iterations.
func DefaultCheckpoints() []Checkpoint {
	return []Checkpoint{
		{Name: "twenty", Iterations: 20},
		{Name: "forty", Iterations: 20},
		{Name: "sixty", Iterations: 20},
	}
}

// DefaultDeformableIterations is the SyN budget of a single deformable pass.
const DefaultDeformableIterations = 60

// Params holds the parameters of one pipeline run. They are fixed once the
// pipeline is created.
type Params struct {
	// FixedImage is the reference image. In affine mode it names a file
	// inside SourceDir; in deformable mode it is used as given.
	FixedImage string

	// Lower and Upper select subjects by 1-based position in the sorted
	// source listing, both ends included
	Lower int
	Upper int

	// Mode is the registration stage to run
	Mode Mode

	// Observe writes the intermediate checkpoint results of a deformable
	// run instead of building an atlas
	Observe bool

	// Initialize writes the unweighted average of every loaded image first
	Initialize bool

	// RandomFixed also copies a randomly chosen subject to
	// randomFixedImage<N> during initialization
	RandomFixed bool

	// Seed seeds the random subject choice. Zero seeds from the clock.
	Seed int64

	// Divide averages the registered range; otherwise the raw sum is written
	Divide bool

	// SourceDir is the directory listed for subject images
	SourceDir string

	// OutputDir receives every written file. Empty means the working directory.
	OutputDir string

	// Namer derives output filenames
	Namer naming.Namer

	// Subjects parses subject numbers out of filenames
	Subjects *naming.Parser

	// Workers bounds how many subjects are registered at once
	Workers int

	// DeformableIterations is the budget of a non-observe deformable pass
	DeformableIterations int

	// Checkpoints is the observe cascade
	Checkpoints []Checkpoint

	// Progress receives human-readable progress lines. Nil discards them.
	Progress io.Writer
}

// withDefaults fills unset optional fields.
func (p Params) withDefaults() Params {
	if p.Namer.Ext == "" {
		p.Namer = naming.NewNamer("")
	}
	if p.Subjects == nil {
		p.Subjects = naming.MustParser(naming.DefaultSubjectPattern)
	}
	if p.Workers < 1 {
		p.Workers = 1
	}
	if p.DeformableIterations < 1 {
		p.DeformableIterations = DefaultDeformableIterations
	}
	if len(p.Checkpoints) == 0 {
		p.Checkpoints = DefaultCheckpoints()
	}
	if p.Progress == nil {
		p.Progress = io.Discard
	}
	return p
}

// RangeError reports a subject range that does not fit the loaded images.
type RangeError struct {
	Lower, Upper, Count int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %d..%d is outside the %d loaded images (need 1 <= lower <= upper <= %d)",
		e.Lower, e.Upper, e.Count, e.Count)
}
