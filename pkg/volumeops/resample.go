package volumeops

import (
	"fmt"

	"slabrecon/internal/models"
)

// Duplicate replicates every sample factor times along axis, so that the sample
// at index i occupies [i*factor, i*factor+factor) in the output. Voxels shrink
// by factor along axis; the other axes are untouched.
func Duplicate(in *models.Volume, factor int, axis models.Axis) (*models.Volume, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("%w: duplication factor must be positive, got %d", ErrInvalidFactor, factor)
	}
	if !axis.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAxis, axis)
	}

	affine, err := rescaleAffine(in, axis, 1/float64(factor))
	if err != nil {
		return nil, err
	}

	outDims := in.Dims()
	outDims[axis] *= factor
	out := &models.Volume{
		Data:      make([]float64, outDims[0]*outDims[1]*outDims[2]),
		Width:     outDims[0],
		Height:    outDims[1],
		Depth:     outDims[2],
		VoxelSize: in.VoxelSize,
		Affine:    affine,
		Datatype:  in.Datatype,
	}
	out.VoxelSize[axis] /= float64(factor)

	inStride := strides(in.Dims())
	i := 0
	for z := 0; z < outDims[2]; z++ {
		for y := 0; y < outDims[1]; y++ {
			for x := 0; x < outDims[0]; x++ {
				src := [3]int{x, y, z}
				src[axis] /= factor
				out.Data[i] = in.Data[src[0]*inStride[0]+src[1]*inStride[1]+src[2]*inStride[2]]
				i++
			}
		}
	}

	return out, nil
}

// Average is the inverse of Duplicate: every run of factor consecutive samples
// along axis is replaced by its mean. The axis length must be a multiple of factor.
func Average(in *models.Volume, factor int, axis models.Axis) (*models.Volume, error) {
	if !axis.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAxis, axis)
	}
	if factor <= 0 {
		return nil, fmt.Errorf("%w: averaging factor must be positive, got %d", ErrInvalidFactor, factor)
	}
	inDims := in.Dims()
	if inDims[axis]%factor != 0 {
		return nil, fmt.Errorf("%w: size%s %d is not a multiple of %d",
			ErrInvalidFactor, axis, inDims[axis], factor)
	}

	affine, err := rescaleAffine(in, axis, float64(factor))
	if err != nil {
		return nil, err
	}

	outDims := inDims
	outDims[axis] /= factor
	out := &models.Volume{
		Data:      make([]float64, outDims[0]*outDims[1]*outDims[2]),
		Width:     outDims[0],
		Height:    outDims[1],
		Depth:     outDims[2],
		VoxelSize: in.VoxelSize,
		Affine:    affine,
		Datatype:  in.Datatype,
	}
	out.VoxelSize[axis] *= float64(factor)

	inStride := strides(inDims)
	step := inStride[axis]
	i := 0
	for z := 0; z < outDims[2]; z++ {
		for y := 0; y < outDims[1]; y++ {
			for x := 0; x < outDims[0]; x++ {
				src := [3]int{x, y, z}
				src[axis] *= factor
				base := src[0]*inStride[0] + src[1]*inStride[1] + src[2]*inStride[2]
				sum := 0.0
				for k := 0; k < factor; k++ {
					sum += in.Data[base+k*step]
				}
				out.Data[i] = sum / float64(factor)
				i++
			}
		}
	}

	return out, nil
}
