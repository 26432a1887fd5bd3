// Package sampler places sample intervals along rays: stratified sampling
// for the first pipeline level and inverse-CDF importance resampling over
// the previous level's weight histogram for later levels.
package sampler

import (
	"fmt"
	"math"
	"math/rand"
)

// ResampleOptions control how a weight histogram is reshaped before
// inverse-CDF sampling.
type ResampleOptions struct {
	// Dilation widens each interval's influence by
	// DilationBias + DilationMultiplier * meanWidth before resampling.
	DilationMultiplier float64
	DilationBias       float64
	// ResamplePadding is added to every weight, flooring the histogram so
	// no interval collapses to zero probability.
	ResamplePadding float64
	// AnnealSlope sharpens the histogram as training progresses; zero
	// disables annealing.
	AnnealSlope float64
	// Progress is the training fraction in [0, 1].
	Progress float64
	// SingleJitter applies one shared random offset to all samples of the
	// ray instead of independent per-sample jitter.
	SingleJitter bool
}

// Stratified returns n+1 sorted interval edges partitioning [near, far],
// each jittered within its stratum. With singleJitter, one offset is shared
// by all edges. A nil rng yields the deterministic midpoint grid.
func Stratified(rng *rand.Rand, near, far float64, n int, singleJitter bool) []float64 {
	edges := make([]float64, n+1)
	span := far - near
	shared := 0.5
	if rng != nil && singleJitter {
		shared = rng.Float64()
	}
	for i := range edges {
		u := shared
		if rng != nil && !singleJitter {
			u = rng.Float64()
		}
		edges[i] = near + span*(float64(i)+u)/float64(n+1)
	}
	return edges
}

// Midpoints returns the sample distance at the center of each interval.
func Midpoints(edges []float64) []float64 {
	mids := make([]float64, len(edges)-1)
	for i := range mids {
		mids[i] = 0.5 * (edges[i] + edges[i+1])
	}
	return mids
}

// Widths returns the width of each interval.
func Widths(edges []float64) []float64 {
	widths := make([]float64, len(edges)-1)
	for i := range widths {
		widths[i] = edges[i+1] - edges[i]
	}
	return widths
}

// Resample draws n+1 new sorted edges from the piecewise-constant
// distribution induced by weights over the given edges. len(weights) must
// equal len(edges)-1.
func Resample(rng *rand.Rand, edges, weights []float64, n int, opts ResampleOptions) ([]float64, error) {
	if len(edges) < 2 || len(weights) != len(edges)-1 {
		return nil, fmt.Errorf("resample: %d edges with %d weights", len(edges), len(weights))
	}
	if n <= 0 {
		return nil, fmt.Errorf("resample: sample count must be > 0, got %d", n)
	}

	shaped := annealWeights(weights, opts.AnnealSlope, opts.Progress)
	shaped = dilateWeights(edges, shaped, opts.DilationBias, opts.DilationMultiplier)
	for i := range shaped {
		shaped[i] += opts.ResamplePadding
	}

	total := 0.0
	for _, w := range shaped {
		total += w
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		// Degenerate histogram: fall back to uniform.
		for i := range shaped {
			shaped[i] = 1
		}
		total = float64(len(shaped))
	}

	cdf := make([]float64, len(edges))
	acc := 0.0
	for i, w := range shaped {
		acc += w / total
		cdf[i+1] = acc
	}
	cdf[len(cdf)-1] = 1

	out := make([]float64, n+1)
	shared := 0.5
	if rng != nil && opts.SingleJitter {
		shared = rng.Float64()
	}
	for i := range out {
		u := shared
		if rng != nil && !opts.SingleJitter {
			u = rng.Float64()
		}
		pos := (float64(i) + u) / float64(n+1)
		out[i] = invertCDF(edges, cdf, pos)
	}
	return out, nil
}

// annealWeights raises weights to a progress-dependent power. The exponent
// follows the bias curve s*x / ((s-1)*x + 1), reaching 1 as progress does.
func annealWeights(weights []float64, slope, progress float64) []float64 {
	out := make([]float64, len(weights))
	if slope <= 0 {
		copy(out, weights)
		return out
	}
	x := math.Min(math.Max(progress, 0), 1)
	exponent := slope * x / ((slope-1)*x + 1)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		out[i] = math.Pow(w, exponent)
	}
	return out
}

// dilateWeights max-pools each interval's weight over all intervals within
// the dilation distance, widening peaks so resampling does not miss thin
// structures adjacent to them.
func dilateWeights(edges, weights []float64, bias, mult float64) []float64 {
	if bias <= 0 && mult <= 0 {
		return weights
	}
	span := edges[len(edges)-1] - edges[0]
	dilation := bias + mult*span/float64(len(weights))
	out := make([]float64, len(weights))
	for i := range weights {
		lo := edges[i] - dilation
		hi := edges[i+1] + dilation
		maxW := 0.0
		for j := range weights {
			if edges[j+1] <= lo || edges[j] >= hi {
				continue
			}
			if weights[j] > maxW {
				maxW = weights[j]
			}
		}
		out[i] = maxW
	}
	return out
}

// invertCDF maps u in [0, 1] to a distance via linear interpolation within
// the interval containing u.
func invertCDF(edges, cdf []float64, u float64) float64 {
	// cdf is sorted; find the first index with cdf[i] >= u.
	lo, hi := 0, len(cdf)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if cdf[mid] < u {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return edges[0]
	}
	c0, c1 := cdf[lo-1], cdf[lo]
	t := 0.0
	if c1 > c0 {
		t = (u - c0) / (c1 - c0)
	}
	return edges[lo-1] + t*(edges[lo]-edges[lo-1])
}
