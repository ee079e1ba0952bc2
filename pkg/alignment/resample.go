package alignment

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"slabrecon/internal/models"
	"slabrecon/pkg/nifti"
)

// ResampleAligner brings source and companion onto the reference lattice by
// nearest-neighbour resampling through their affines. It does not estimate
// motion: Transform, when set, is a known rigid transform from reference world
// coordinates to source world coordinates; nil means identity.
type ResampleAligner struct {
	Transform *mat.Dense
}

// Align implements Aligner
func (r *ResampleAligner) Align(ctx context.Context, reference, source, companion string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ref, err := nifti.Load(reference)
	if err != nil {
		return failure("reference: %v", err)
	}

	for _, path := range []string{source, companion} {
		if err := ctx.Err(); err != nil {
			return err
		}
		in, err := nifti.Load(path)
		if err != nil {
			return failure("%v", err)
		}
		out, err := r.Resample(ref, in)
		if err != nil {
			return err
		}
		if err := nifti.Save(path, out); err != nil {
			return failure("writing %s: %v", path, err)
		}
	}
	return nil
}

// Resample returns in sampled on the lattice of ref. Reference voxels that map
// outside in are set to zero.
func (r *ResampleAligner) Resample(ref, in *models.Volume) (*models.Volume, error) {
	// voxel(ref) -> world(ref) -> world(in) -> voxel(in)
	var inv mat.Dense
	if err := inv.Inverse(in.AffineDense()); err != nil {
		return nil, failure("source affine is singular: %v", err)
	}
	world := ref.AffineDense()
	if r.Transform != nil {
		var moved mat.Dense
		moved.Mul(r.Transform, world)
		world = &moved
	}
	var m mat.Dense
	m.Mul(&inv, world)

	out := &models.Volume{
		Data:      make([]float64, ref.Len()),
		Width:     ref.Width,
		Height:    ref.Height,
		Depth:     ref.Depth,
		VoxelSize: ref.VoxelSize,
		Affine:    ref.Affine,
		Datatype:  in.Datatype,
	}

	dims := in.Dims()
	i := 0
	for z := 0; z < ref.Depth; z++ {
		for y := 0; y < ref.Height; y++ {
			for x := 0; x < ref.Width; x++ {
				var src [3]int
				inside := true
				for k := 0; k < 3; k++ {
					c := m.At(k, 0)*float64(x) + m.At(k, 1)*float64(y) + m.At(k, 2)*float64(z) + m.At(k, 3)
					src[k] = int(math.Round(c))
					if src[k] < 0 || src[k] >= dims[k] {
						inside = false
						break
					}
				}
				if inside {
					out.Data[i] = in.At(src[0], src[1], src[2])
				}
				i++
			}
		}
	}
	return out, nil
}
