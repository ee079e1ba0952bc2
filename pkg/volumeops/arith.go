package volumeops

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"slabrecon/internal/models"
)

// CreatePhantom returns a float volume with the geometry of ref where every
// sample equals value.
func CreatePhantom(ref *models.Volume, value float64) *models.Volume {
	out := models.NewVolumeLike(ref)
	out.Datatype = models.Float32
	for i := range out.Data {
		out.Data[i] = value
	}
	return out
}

// ToFloat returns a copy of in stored as float32. Float64 volumes keep their precision.
func ToFloat(in *models.Volume) *models.Volume {
	out := in.Clone()
	if out.Datatype != models.Float64 {
		out.Datatype = models.Float32
	}
	return out
}

// finite copies data replacing NaN and infinities with zero
func finite(data []float64) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}

func checkShapes(v1, v2 *models.Volume) error {
	if !v1.SameShape(v2) {
		return fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", ErrShapeMismatch,
			v1.Width, v1.Height, v1.Depth, v2.Width, v2.Height, v2.Depth)
	}
	return nil
}

func resultType(v1, v2 *models.Volume) models.Datatype {
	if v1.Datatype == models.Float64 && v2.Datatype == models.Float64 {
		return models.Float64
	}
	return models.Float32
}

// Add returns v1 + v2. Non-finite samples in either operand count as zero.
// The geometry of the result is taken from v1.
func Add(v1, v2 *models.Volume) (*models.Volume, error) {
	if err := checkShapes(v1, v2); err != nil {
		return nil, err
	}

	out := models.NewVolumeLike(v1)
	out.Datatype = resultType(v1, v2)
	floats.AddTo(out.Data, finite(v1.Data), finite(v2.Data))
	return out, nil
}

// Divide returns v1 / v2. Non-finite samples count as zero and every site where
// v2 is zero yields zero, so voxels outside any coverage are defined.
func Divide(v1, v2 *models.Volume) (*models.Volume, error) {
	if err := checkShapes(v1, v2); err != nil {
		return nil, err
	}

	num := finite(v1.Data)
	den := finite(v2.Data)
	empty := make([]bool, len(den))
	for i, d := range den {
		if d == 0 {
			empty[i] = true
			den[i] = 1
		}
	}

	out := models.NewVolumeLike(v1)
	out.Datatype = resultType(v1, v2)
	floats.DivTo(out.Data, num, den)
	for i, e := range empty {
		if e {
			out.Data[i] = 0
		}
	}
	return out, nil
}
