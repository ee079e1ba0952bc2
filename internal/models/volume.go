package models

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Axis identifies one of the three spatial axes of a canonical volume
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// ParseAxis converts "x", "y" or "z" (any case) into an Axis
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("invalid axis: %q (must be x, y, or z)", s)
}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// Valid reports whether a is one of the three spatial axes
func (a Axis) Valid() bool {
	return a >= AxisX && a <= AxisZ
}

// Datatype is the storage type of the samples when the volume is written to disk.
// In memory every sample is a float64.
type Datatype int

const (
	Uint8 Datatype = iota
	Int8
	Int16
	Uint16
	Int32
	Float32
	Float64
)

// IsFloat reports whether samples are stored as floating point
func (d Datatype) IsFloat() bool {
	return d == Float32 || d == Float64
}

func (d Datatype) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("datatype(%d)", int(d))
}

// Volume represents a 3D scalar lattice with its voxel-to-world mapping
type Volume struct {
	// Data is the 3D volume data as a 1D array, x varying fastest
	Data []float64

	// Width is the size of the volume along x in voxels
	Width int

	// Height is the size of the volume along y in voxels
	Height int

	// Depth is the size of the volume along z in voxels
	Depth int

	// VoxelSize is the physical size of each voxel in mm, indexed by Axis
	VoxelSize [3]float64

	// Affine maps voxel indices (i, j, k, 1) to physical coordinates in mm
	Affine [4][4]float64

	// Datatype is the on-disk sample type
	Datatype Datatype
}

// NewVolume allocates a zero-filled float32 volume with unit voxels and an identity affine
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:      make([]float64, width*height*depth),
		Width:     width,
		Height:    height,
		Depth:     depth,
		VoxelSize: [3]float64{1, 1, 1},
		Datatype:  Float32,
	}
	for i := 0; i < 4; i++ {
		v.Affine[i][i] = 1
	}
	return v
}

// NewVolumeLike allocates a zero-filled volume sharing the geometry of ref
func NewVolumeLike(ref *Volume) *Volume {
	return &Volume{
		Data:      make([]float64, len(ref.Data)),
		Width:     ref.Width,
		Height:    ref.Height,
		Depth:     ref.Depth,
		VoxelSize: ref.VoxelSize,
		Affine:    ref.Affine,
		Datatype:  ref.Datatype,
	}
}

// Dims returns the lattice size indexed by Axis
func (v *Volume) Dims() [3]int {
	return [3]int{v.Width, v.Height, v.Depth}
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Index returns the flat offset of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the sample at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a sample at (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// SameShape reports whether both volumes have identical lattice sizes
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	out := *v
	out.Data = make([]float64, len(v.Data))
	copy(out.Data, v.Data)
	return &out
}

// Validate checks that the lattice and affine are mutually consistent
func (v *Volume) Validate() error {
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("invalid volume dimensions %dx%dx%d", v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("volume holds %d samples, dimensions %dx%dx%d need %d",
			len(v.Data), v.Width, v.Height, v.Depth, v.Len())
	}
	if v.Affine[3] != [4]float64{0, 0, 0, 1} {
		return fmt.Errorf("affine last row must be [0 0 0 1], got %v", v.Affine[3])
	}
	return nil
}

// AffineDense returns a copy of the affine as a gonum matrix
func (v *Volume) AffineDense() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, v.Affine[r][c])
		}
	}
	return m
}

// SetAffineDense copies a 4x4 gonum matrix into the volume affine
func (v *Volume) SetAffineDense(m mat.Matrix) {
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			v.Affine[r][c] = m.At(r, c)
		}
	}
}

// Block is one of the two interleaved acquisition blocks of a repetition
type Block int

const (
	BlockA Block = iota
	BlockB
)

func (b Block) String() string {
	if b == BlockB {
		return "b"
	}
	return "a"
}

// GapPosition is the offset of the gap rows inserted into this block.
// Blocks a and b use complementary offsets so that their samples never overlap.
func (b Block) GapPosition() int {
	return int(b)
}

// SlabID identifies one of the four slabs (2 repetitions x 2 blocks)
type SlabID struct {
	// Repetition is 1 or 2
	Repetition int

	// Block is a or b
	Block Block
}

func (s SlabID) String() string {
	return fmt.Sprintf("%d%s", s.Repetition, s.Block)
}

// AllSlabs lists the four slabs in acquisition order: 1a, 1b, 2a, 2b
func AllSlabs() []SlabID {
	return []SlabID{
		{Repetition: 1, Block: BlockA},
		{Repetition: 1, Block: BlockB},
		{Repetition: 2, Block: BlockA},
		{Repetition: 2, Block: BlockB},
	}
}

// GapSpec describes periodic gap insertion along an axis
type GapSpec struct {
	// Factor is the period between gap rows
	Factor int

	// Position is the offset of the gap row within each period
	Position int

	// Axis is the axis along which gap rows are inserted
	Axis Axis
}
