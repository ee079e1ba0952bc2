package reconstruction

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"slabrecon/internal/models"
)

// AgreementMetrics compares the two normalized repetitions of a run. Both
// repetitions image the same anatomy, so any disagreement comes from residual
// motion, alignment error or noise.
type AgreementMetrics struct {
	// RMSE between the normalized repetitions over voxels both cover.
	// Lower is better.
	RMSE float64

	// Correlation is the Pearson correlation over the same voxels
	Correlation float64

	// SSIM is a global structural similarity index over the same voxels,
	// with the dynamic range taken from the data. 1 means identical.
	SSIM float64

	// Coverage is the fraction of voxels of the output lattice covered by at
	// least one slab
	Coverage float64

	// CoveredVoxels is the number of voxels both repetitions cover
	CoveredVoxels int
}

// Agreement computes repetition agreement statistics from a combination
func Agreement(c *Combination) AgreementMetrics {
	var m AgreementMetrics
	if c == nil || c.Phantom == nil {
		return m
	}

	covered := coverageOf(c.Phantom)
	if n := len(c.Phantom.Data); n > 0 {
		m.Coverage = float64(covered) / float64(n)
	}

	x, y := coveredPairs(c.Repetitions[0], c.Repetitions[1])
	m.CoveredVoxels = len(x)
	if len(x) == 0 {
		return m
	}

	m.RMSE = calculateRMSE(x, y)
	m.SSIM = calculateSSIM(x, y)
	m.Correlation = calculateCorrelation(x, y)
	return m
}

// coveredPairs returns the normalized samples of both repetitions at the
// voxels both of them cover
func coveredPairs(r1, r2 Repetition) ([]float64, []float64) {
	if !complete(r1) || !complete(r2) || !r1.Phantom.SameShape(r2.Phantom) {
		return nil, nil
	}
	var x, y []float64
	for i := range r1.Phantom.Data {
		if r1.Phantom.Data[i] > 0 && r2.Phantom.Data[i] > 0 {
			x = append(x, r1.Ponderated.Data[i])
			y = append(y, r2.Ponderated.Data[i])
		}
	}
	return x, y
}

func complete(r Repetition) bool {
	return r.Phantom != nil && r.Ponderated != nil
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}
	return floats.Distance(original, reconstructed, 2) / math.Sqrt(float64(n))
}

// calculateSSIM computes the Structural Similarity Index
func calculateSSIM(original, reconstructed []float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	L := dynamicRange(original, reconstructed)
	if L == 0 {
		// both constant and equal
		if floats.Equal(original, reconstructed) {
			return 1
		}
		L = 1
	}
	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)

	var sigmaX, sigmaY, sigmaXY float64
	if n > 1 {
		sigmaX = stat.Variance(original, nil)
		sigmaY = stat.Variance(reconstructed, nil)
		sigmaXY = stat.Covariance(original, reconstructed, nil)
	}

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// calculateCorrelation returns the Pearson correlation, or 0 when either side
// has no variance
func calculateCorrelation(x, y []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

func dynamicRange(a, b []float64) float64 {
	lo := math.Min(floats.Min(a), floats.Min(b))
	hi := math.Max(floats.Max(a), floats.Max(b))
	return hi - lo
}

// coverageOf counts the voxels of a phantom with at least one sample
func coverageOf(v *models.Volume) int {
	n := 0
	for _, s := range v.Data {
		if s > 0 {
			n++
		}
	}
	return n
}
