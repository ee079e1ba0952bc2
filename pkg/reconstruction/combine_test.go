package reconstruction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slabrecon/internal/models"
	"slabrecon/pkg/volumeops"
)

func constant(width, height, depth int, value float64) *models.Volume {
	v := models.NewVolume(width, height, depth)
	for i := range v.Data {
		v.Data[i] = value
	}
	return v
}

func prepareAll(t *testing.T, slab func(models.SlabID) *models.Volume) []*PreparedSlab {
	t.Helper()
	p := &SlabPreparer{Axis: models.AxisY}
	var out []*PreparedSlab
	for _, id := range models.AllSlabs() {
		prepared, err := p.Prepare(slab(id), id)
		require.NoError(t, err)
		out = append(out, prepared)
	}
	return out
}

func TestPrepareDisjointCoverage(t *testing.T) {
	slabs := prepareAll(t, func(models.SlabID) *models.Volume { return constant(3, 4, 2, 7) })

	for rep := 0; rep < 2; rep++ {
		a, b := slabs[2*rep], slabs[2*rep+1]
		sum, err := volumeops.Add(a.Phantom, b.Phantom)
		require.NoError(t, err)
		for i := range sum.Data {
			assert.Contains(t, []float64{0, 1}, a.Phantom.Data[i])
			assert.Equal(t, 1.0, sum.Data[i], "voxel %d of repetition %d", i, rep+1)
		}
	}
}

func TestPrepareShapes(t *testing.T) {
	in := constant(3, 4, 2, 5)
	in.Datatype = models.Int16

	p := &SlabPreparer{Axis: models.AxisY}
	id := models.SlabID{Repetition: 1, Block: models.BlockB}
	prepared, err := p.Prepare(in, id)
	require.NoError(t, err)

	assert.Equal(t, id, prepared.ID)
	assert.Equal(t, [3]int{3, 8, 2}, prepared.Float.Dims())
	assert.Equal(t, models.Float32, prepared.Float.Datatype)
	assert.Equal(t, models.Float32, prepared.Phantom.Datatype)
	assert.Equal(t, 0.5, prepared.Float.VoxelSize[1])

	// block b keeps rows 0, 2, 4, 6
	for y := 0; y < 8; y++ {
		want := 0.0
		if y%2 == 0 {
			want = 5
		}
		assert.Equal(t, want, prepared.Float.At(1, y, 1), "row %d", y)
		assert.Equal(t, want/5, prepared.Phantom.At(1, y, 1), "row %d", y)
	}

	// input untouched
	assert.Equal(t, [3]int{3, 4, 2}, in.Dims())
	assert.Equal(t, models.Int16, in.Datatype)
}

func TestPrepareRejectsFactorBelowBlockCount(t *testing.T) {
	p := &SlabPreparer{Factor: 1, Axis: models.AxisZ}
	_, err := p.Prepare(constant(2, 2, 2, 1), models.SlabID{Repetition: 1, Block: models.BlockB})
	assert.ErrorIs(t, err, volumeops.ErrInvalidGapSpec)
}

func TestPrepareRejectsFactorAboveBlockCount(t *testing.T) {
	// with a period of 3 the a and b gaps would leave row 2 covered twice
	for _, id := range models.AllSlabs() {
		p := &SlabPreparer{Factor: 3, Axis: models.AxisY}
		_, err := p.Prepare(constant(2, 3, 2, 1), id)
		assert.ErrorIs(t, err, volumeops.ErrInvalidFactor, "slab %s", id)
	}
}

func TestCombineRecoversConstant(t *testing.T) {
	slabs := prepareAll(t, func(models.SlabID) *models.Volume { return constant(3, 4, 2, 1) })

	c, err := Combine(context.Background(), slabs)
	require.NoError(t, err)

	for i := range c.Ponderated.Data {
		assert.Equal(t, 1.0, c.Ponderated.Data[i])
		assert.Equal(t, 2.0, c.Phantom.Data[i])
		assert.Equal(t, 4.0/2.0, c.SumOfPonderated.Data[i])
		for _, rep := range c.Repetitions {
			assert.Equal(t, 1.0, rep.Ponderated.Data[i])
			assert.Equal(t, 1.0, rep.Phantom.Data[i])
		}
	}
}

func TestCombineUncoveredVoxelsAreZero(t *testing.T) {
	slabs := prepareAll(t, func(models.SlabID) *models.Volume { return constant(2, 2, 1, 3) })
	// the aligner moved repetition 2 block a out of the field of view
	for i := range slabs[2].Float.Data {
		slabs[2].Float.Data[i] = 0
		slabs[2].Phantom.Data[i] = 0
	}

	c, err := Combine(context.Background(), slabs)
	require.NoError(t, err)
	rep2 := c.Repetitions[1]
	for y := 0; y < 4; y++ {
		covered := y%2 == 0 // block b rows
		if covered {
			assert.Equal(t, 3.0, rep2.Ponderated.At(0, y, 0))
		} else {
			assert.Equal(t, 0.0, rep2.Ponderated.At(0, y, 0))
		}
		// repetition 1 still covers everything
		assert.Equal(t, 3.0, c.Ponderated.At(0, y, 0))
	}
}

func TestCombineMissingSlab(t *testing.T) {
	slabs := prepareAll(t, func(models.SlabID) *models.Volume { return constant(2, 2, 2, 1) })

	_, err := Combine(context.Background(), slabs[:3])
	assert.ErrorIs(t, err, ErrMissingSlab)

	slabs[1] = &PreparedSlab{ID: slabs[1].ID}
	_, err = Combine(context.Background(), slabs)
	assert.ErrorIs(t, err, ErrMissingSlab)
}

func TestCombineShapeMismatch(t *testing.T) {
	slabs := prepareAll(t, func(id models.SlabID) *models.Volume {
		if id.Repetition == 2 {
			return constant(2, 3, 2, 1)
		}
		return constant(2, 2, 2, 1)
	})

	_, err := Combine(context.Background(), slabs)
	assert.ErrorIs(t, err, volumeops.ErrShapeMismatch)
}

func TestAgreement(t *testing.T) {
	slabs := prepareAll(t, func(id models.SlabID) *models.Volume {
		v := models.NewVolume(4, 2, 2)
		for i := range v.Data {
			v.Data[i] = float64(i)
			if id.Repetition == 2 {
				v.Data[i] += 1
			}
		}
		return v
	})
	c, err := Combine(context.Background(), slabs)
	require.NoError(t, err)

	m := Agreement(c)
	assert.Equal(t, 1.0, m.Coverage)
	assert.Equal(t, c.Phantom.Len(), m.CoveredVoxels)
	assert.InDelta(t, 1.0, m.RMSE, 1e-12)
	assert.InDelta(t, 1.0, m.Correlation, 1e-12)
	assert.Less(t, m.SSIM, 1.0)
	assert.Greater(t, m.SSIM, 0.9)

	assert.Equal(t, AgreementMetrics{}, Agreement(nil))
}

func TestSSIMConstantInputs(t *testing.T) {
	assert.Equal(t, 1.0, calculateSSIM([]float64{2, 2}, []float64{2, 2}))
	assert.Equal(t, 0.0, calculateCorrelation([]float64{2, 2}, []float64{2, 2}))
	assert.Equal(t, 0.0, calculateRMSE(nil, nil))
}
