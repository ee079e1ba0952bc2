package volumeops

import (
	"fmt"

	"slabrecon/internal/models"
)

// PadWhere selects which end of an axis receives an empty block
type PadWhere int

const (
	PadAtBeginning PadWhere = iota
	PadAtEnd
)

// ValidateGap checks a gap specification without touching any volume
func ValidateGap(spec models.GapSpec) error {
	if spec.Factor <= 0 {
		return fmt.Errorf("%w: gap factor must be a positive integer, got %d", ErrInvalidGapSpec, spec.Factor)
	}
	if spec.Position < 0 {
		return fmt.Errorf("%w: gap position must be a positive integer, got %d", ErrInvalidGapSpec, spec.Position)
	}
	if spec.Position >= spec.Factor {
		return fmt.Errorf("%w: gap position %d must be lower than gap factor %d",
			ErrInvalidGapSpec, spec.Position, spec.Factor)
	}
	if !spec.Axis.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidAxis, spec.Axis)
	}
	return nil
}

// InsertGap zeroes every slice along spec.Axis whose index i satisfies
// i mod Factor == Position. Other samples are copied unchanged.
func InsertGap(in *models.Volume, spec models.GapSpec) (*models.Volume, error) {
	if err := ValidateGap(spec); err != nil {
		return nil, err
	}

	out := in.Clone()
	dims := out.Dims()
	i := 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				c := [3]int{x, y, z}
				if c[spec.Axis]%spec.Factor == spec.Position {
					out.Data[i] = 0
				}
				i++
			}
		}
	}
	return out, nil
}

// PadBlock inserts size empty slices at the beginning or the end of axis.
// Padding at the beginning shifts the origin so existing voxels keep their
// physical position.
func PadBlock(in *models.Volume, size int, where PadWhere, axis models.Axis) (*models.Volume, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: block size must not be negative, got %d", ErrInvalidFactor, size)
	}
	if !axis.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAxis, axis)
	}

	inDims := in.Dims()
	outDims := inDims
	outDims[axis] += size
	out := &models.Volume{
		Data:      make([]float64, outDims[0]*outDims[1]*outDims[2]),
		Width:     outDims[0],
		Height:    outDims[1],
		Depth:     outDims[2],
		VoxelSize: in.VoxelSize,
		Affine:    in.Affine,
		Datatype:  in.Datatype,
	}

	offset := 0
	if where == PadAtBeginning {
		offset = size
		for r := 0; r < 3; r++ {
			out.Affine[r][3] -= in.Affine[r][axis] * float64(size)
		}
	}

	outStride := strides(outDims)
	i := 0
	for z := 0; z < inDims[2]; z++ {
		for y := 0; y < inDims[1]; y++ {
			for x := 0; x < inDims[0]; x++ {
				dst := [3]int{x, y, z}
				dst[axis] += offset
				out.Data[dst[0]*outStride[0]+dst[1]*outStride[1]+dst[2]*outStride[2]] = in.Data[i]
				i++
			}
		}
	}
	return out, nil
}
