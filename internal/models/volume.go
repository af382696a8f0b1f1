package models

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrShapeMismatch is returned when two volumes do not share dimensions.
	ErrShapeMismatch = errors.New("volume shapes differ")

	// ErrDivideByZero is returned by Divide for a zero divisor.
	ErrDivideByZero = errors.New("division by zero")
)

// Volume represents a 3D MRI volume held in memory together with the
// spatial metadata that places it in scanner space
type Volume struct {
	// Data is the voxel intensities as a 1D array in x-fastest order
	Data []float64

	// Dims is the number of voxels along x, y and z
	Dims [3]int

	// Origin is the physical position of the first voxel in mm
	Origin [3]float64

	// Spacing is the physical size of each voxel in mm
	Spacing [3]float64

	// Direction is the row-major 3x3 direction cosine matrix
	Direction [9]float64
}

// NewVolume allocates a zeroed volume with unit spacing and identity direction.
func NewVolume(x, y, z int) *Volume {
	return &Volume{
		Data:      make([]float64, x*y*z),
		Dims:      [3]int{x, y, z},
		Spacing:   [3]float64{1, 1, 1},
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// SameShape reports whether v and o have identical dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Dims == o.Dims && len(v.Data) == len(o.Data)
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	c := *v
	c.Data = make([]float64, len(v.Data))
	copy(c.Data, v.Data)
	return &c
}

// WithGeometryOf returns a copy of v carrying the spatial metadata of ref.
func (v *Volume) WithGeometryOf(ref *Volume) *Volume {
	c := v.Clone()
	c.Origin = ref.Origin
	c.Spacing = ref.Spacing
	c.Direction = ref.Direction
	return c
}

// Add returns the voxel-wise sum v + o. The result keeps the metadata of v.
func (v *Volume) Add(o *Volume) (*Volume, error) {
	if !v.SameShape(o) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, v.Dims, o.Dims)
	}
	sum := v.Clone()
	floats.Add(sum.Data, o.Data)
	return sum, nil
}

// Divide returns v / k. The result keeps the metadata of v.
func (v *Volume) Divide(k float64) (*Volume, error) {
	if k == 0 {
		return nil, ErrDivideByZero
	}
	q := v.Clone()
	floats.Scale(1/k, q.Data)
	return q, nil
}

// Mean returns the mean voxel intensity
func (v *Volume) Mean() float64 {
	return stat.Mean(v.Data, nil)
}

// StdDev returns the sample standard deviation of the voxel intensities,
// 0 for volumes with fewer than two voxels
func (v *Volume) StdDev() float64 {
	if len(v.Data) < 2 {
		return 0
	}
	return stat.StdDev(v.Data, nil)
}
