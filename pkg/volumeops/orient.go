package volumeops

import (
	"fmt"
	"math"

	"slabrecon/internal/models"
)

// axisOrientation maps voxel axis i to world axis World[i], reversed when Flip[i]
type axisOrientation struct {
	World [3]int
	Flip  [3]bool
}

// orientation finds, for every voxel axis, the world axis its column points
// along most closely. Assignments are made greedily from the strongest
// normalized component down, so each world axis is used once.
func orientation(affine [4][4]float64) (axisOrientation, error) {
	var o axisOrientation
	var weight [3][3]float64
	for c := 0; c < 3; c++ {
		norm := math.Sqrt(affine[0][c]*affine[0][c] + affine[1][c]*affine[1][c] + affine[2][c]*affine[2][c])
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return o, fmt.Errorf("%w: voxel axis %d has no extent", ErrSingularAffine, c)
		}
		for r := 0; r < 3; r++ {
			weight[r][c] = math.Abs(affine[r][c]) / norm
		}
	}

	var rowUsed, colUsed [3]bool
	for n := 0; n < 3; n++ {
		best, br, bc := -1.0, -1, -1
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				if !rowUsed[r] && !colUsed[c] && weight[r][c] > best {
					best, br, bc = weight[r][c], r, c
				}
			}
		}
		if best <= 0 {
			return o, fmt.Errorf("%w: voxel axes are not independent", ErrSingularAffine)
		}
		rowUsed[br], colUsed[bc] = true, true
		o.World[bc] = br
		o.Flip[bc] = affine[br][bc] < 0
	}
	return o, nil
}

// Orientation returns the axis codes of the world direction each voxel axis
// increases towards, e.g. "RAS" for a canonical volume or "LPS" for DICOM order.
func Orientation(v *models.Volume) (string, error) {
	o, err := orientation(v.Affine)
	if err != nil {
		return "", err
	}
	codes := [3][2]byte{{'R', 'L'}, {'A', 'P'}, {'S', 'I'}}
	out := make([]byte, 3)
	for i := 0; i < 3; i++ {
		if o.Flip[i] {
			out[i] = codes[o.World[i]][1]
		} else {
			out[i] = codes[o.World[i]][0]
		}
	}
	return string(out), nil
}

// Canonicalize reorders and flips the lattice of in so that voxel axes x, y
// and z increase towards world right, anterior and superior. The affine is
// updated so every sample keeps its physical position. Volumes that are
// already canonical come back as a copy.
func Canonicalize(in *models.Volume) (*models.Volume, error) {
	o, err := orientation(in.Affine)
	if err != nil {
		return nil, err
	}

	// src[k] is the input voxel axis that becomes output axis k
	var src [3]int
	for i := 0; i < 3; i++ {
		src[o.World[i]] = i
	}

	inDims := in.Dims()
	var outDims [3]int
	out := &models.Volume{Datatype: in.Datatype}
	for k := 0; k < 3; k++ {
		p := src[k]
		outDims[k] = inDims[p]
		out.VoxelSize[k] = in.VoxelSize[p]
		sign := 1.0
		if o.Flip[p] {
			sign = -1
		}
		for r := 0; r < 3; r++ {
			out.Affine[r][k] = sign * in.Affine[r][p]
		}
	}
	for r := 0; r < 3; r++ {
		out.Affine[r][3] = in.Affine[r][3]
		for p := 0; p < 3; p++ {
			if o.Flip[p] {
				out.Affine[r][3] += float64(inDims[p]-1) * in.Affine[r][p]
			}
		}
	}
	out.Affine[3] = [4]float64{0, 0, 0, 1}
	out.Width, out.Height, out.Depth = outDims[0], outDims[1], outDims[2]
	out.Data = make([]float64, len(in.Data))

	inStride := strides(inDims)
	i := 0
	for z := 0; z < outDims[2]; z++ {
		for y := 0; y < outDims[1]; y++ {
			for x := 0; x < outDims[0]; x++ {
				idx := [3]int{x, y, z}
				offset := 0
				for k := 0; k < 3; k++ {
					p := src[k]
					j := idx[k]
					if o.Flip[p] {
						j = inDims[p] - 1 - j
					}
					offset += j * inStride[p]
				}
				out.Data[i] = in.Data[offset]
				i++
			}
		}
	}
	return out, nil
}
