package volumeops

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"slabrecon/internal/models"
)

// strides returns the flat-index step of each axis for a lattice of the given size
func strides(dims [3]int) [3]int {
	return [3]int{1, dims[0], dims[0] * dims[1]}
}

// linearPart extracts the 3x3 rotation/zoom block of an affine
func linearPart(affine [4][4]float64) *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, affine[r][c])
		}
	}
	return m
}

// rescaleAffine computes the affine of the lattice obtained by multiplying the
// voxel spacing of axis by scale.
//
// The translation follows nearest-neighbour resampling onto the new linear part:
// the voxel-centre corners of the current lattice are expressed in the new grid
// and the new origin is placed at their per-axis minimum, so the resampled grid
// covers the same physical extent.
func rescaleAffine(v *models.Volume, axis models.Axis, scale float64) ([4][4]float64, error) {
	var out [4][4]float64

	lin := linearPart(v.Affine)
	newLin := mat.DenseCopyOf(lin)
	for r := 0; r < 3; r++ {
		newLin.Set(r, int(axis), lin.At(r, int(axis))*scale)
	}

	var inv mat.Dense
	if err := inv.Inverse(newLin); err != nil {
		return out, fmt.Errorf("%w: %v", ErrSingularAffine, err)
	}

	dims := v.Dims()
	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	corner := mat.NewVecDense(3, nil)
	var world, grid mat.VecDense
	for c := 0; c < 8; c++ {
		for k := 0; k < 3; k++ {
			idx := 0.0
			if c&(1<<k) != 0 {
				idx = float64(dims[k] - 1)
			}
			corner.SetVec(k, idx)
		}
		world.MulVec(lin, corner)
		for k := 0; k < 3; k++ {
			world.SetVec(k, world.AtVec(k)+v.Affine[k][3])
		}
		grid.MulVec(&inv, &world)
		for k := 0; k < 3; k++ {
			lo[k] = math.Min(lo[k], grid.AtVec(k))
		}
	}

	var origin mat.VecDense
	origin.MulVec(newLin, mat.NewVecDense(3, lo[:]))

	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = newLin.At(r, c)
		}
		out[r][3] = origin.AtVec(r)
	}
	out[3] = [4]float64{0, 0, 0, 1}
	return out, nil
}
