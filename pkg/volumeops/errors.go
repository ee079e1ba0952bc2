// Package volumeops implements the stateless voxel-array transformations used to
// recombine interleaved slabs: axis duplication and averaging, periodic gap
// insertion, constant phantoms, block padding, zero-guarded arithmetic and
// reorientation to the canonical RAS voxel order.
//
// Every operation returns a new Volume and leaves its inputs untouched.
package volumeops

import "errors"

var (
	// ErrInvalidFactor is returned for non-positive duplication/averaging factors
	// or averaging factors that do not divide the axis length.
	ErrInvalidFactor = errors.New("invalid factor")

	// ErrInvalidGapSpec is returned when a gap factor is not positive or the gap
	// position falls outside [0, factor).
	ErrInvalidGapSpec = errors.New("invalid gap specification")

	// ErrShapeMismatch is returned when elementwise operands differ in size.
	ErrShapeMismatch = errors.New("the input volumes must have the same size")

	// ErrInvalidAxis is returned for an axis outside x, y, z.
	ErrInvalidAxis = errors.New("invalid axis")

	// ErrSingularAffine is returned when an affine cannot be inverted.
	ErrSingularAffine = errors.New("singular affine")
)
