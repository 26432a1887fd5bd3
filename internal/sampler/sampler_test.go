package sampler

import (
	"math"
	"math/rand"
	"sort"
	"testing"
)

func TestStratifiedEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	edges := Stratified(rng, 0.5, 4.5, 16, false)

	if len(edges) != 17 {
		t.Fatalf("edge count: %d", len(edges))
	}
	if !sort.Float64sAreSorted(edges) {
		t.Fatalf("edges not sorted: %v", edges)
	}
	for _, e := range edges {
		if e < 0.5 || e > 4.5 {
			t.Fatalf("edge %g outside [0.5, 4.5]", e)
		}
	}
}

func TestStratifiedNilRNGIsDeterministic(t *testing.T) {
	a := Stratified(nil, 0, 1, 8, false)
	b := Stratified(nil, 0, 1, 8, true)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("midpoint grid depends on jitter mode at %d: %g vs %g", i, a[i], b[i])
		}
	}
}

func TestMidpointsAndWidths(t *testing.T) {
	edges := []float64{0, 1, 3, 6}
	mids := Midpoints(edges)
	widths := Widths(edges)
	wantMids := []float64{0.5, 2, 4.5}
	wantWidths := []float64{1, 2, 3}
	for i := range mids {
		if mids[i] != wantMids[i] || widths[i] != wantWidths[i] {
			t.Fatalf("interval %d: mid=%g width=%g", i, mids[i], widths[i])
		}
	}
}

// A one-hot histogram with no dilation or padding must place every resampled
// edge inside the hot interval.
func TestResampleOneHotConcentrates(t *testing.T) {
	edges := []float64{0, 1, 2, 3, 4}
	weights := []float64{0, 0, 1, 0}
	rng := rand.New(rand.NewSource(7))

	out, err := Resample(rng, edges, weights, 32, ResampleOptions{})
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	for _, e := range out {
		if e < 2 || e > 3 {
			t.Fatalf("edge %g escaped the hot interval [2, 3]", e)
		}
	}
}

func TestResampleDilationSpreads(t *testing.T) {
	edges := []float64{0, 1, 2, 3, 4}
	weights := []float64{0, 0, 1, 0}
	rng := rand.New(rand.NewSource(7))

	out, err := Resample(rng, edges, weights, 64, ResampleOptions{
		DilationMultiplier: 1,
		DilationBias:       0.5,
	})
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	escaped := false
	for _, e := range out {
		if e < 2 || e > 3 {
			escaped = true
		}
	}
	if !escaped {
		t.Fatal("dilation did not widen the sampled support")
	}
}

func TestResampleDegenerateHistogramFallsBackToUniform(t *testing.T) {
	edges := []float64{0, 1, 2, 3}
	weights := []float64{0, 0, 0}

	out, err := Resample(nil, edges, weights, 30, ResampleOptions{})
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if !sort.Float64sAreSorted(out) {
		t.Fatalf("edges not sorted: %v", out)
	}
	lowHalf := 0
	for _, e := range out {
		if e < 1.5 {
			lowHalf++
		}
	}
	if lowHalf < 10 || lowHalf > 21 {
		t.Fatalf("uniform fallback skewed: %d/31 edges below midpoint", lowHalf)
	}
}

func TestResampleShapeErrors(t *testing.T) {
	if _, err := Resample(nil, []float64{0, 1}, []float64{1, 2}, 4, ResampleOptions{}); err == nil {
		t.Fatal("mismatched weights accepted")
	}
	if _, err := Resample(nil, []float64{0, 1}, []float64{1}, 0, ResampleOptions{}); err == nil {
		t.Fatal("zero sample count accepted")
	}
}

func TestAnnealWeightsExponent(t *testing.T) {
	weights := []float64{0.25, 0.75}

	// Slope <= 0 disables annealing.
	same := annealWeights(weights, 0, 0.5)
	for i := range same {
		if same[i] != weights[i] {
			t.Fatalf("slope 0 changed weight %d: %g", i, same[i])
		}
	}

	// At progress 0 the exponent is 0, flattening everything positive to 1.
	flat := annealWeights(weights, 10, 0)
	for i := range flat {
		if math.Abs(flat[i]-1) > 1e-12 {
			t.Fatalf("progress 0 weight %d: %g", i, flat[i])
		}
	}

	// At progress 1 the exponent is 1: identity.
	ident := annealWeights(weights, 10, 1)
	for i := range ident {
		if math.Abs(ident[i]-weights[i]) > 1e-12 {
			t.Fatalf("progress 1 weight %d: %g", i, ident[i])
		}
	}
}

func TestInvertCDFInterpolates(t *testing.T) {
	edges := []float64{0, 1, 2}
	cdf := []float64{0, 0.5, 1}
	cases := []struct{ u, want float64 }{
		{0, 0},
		{0.25, 0.5},
		{0.5, 1},
		{0.75, 1.5},
		{1, 2},
	}
	for _, tc := range cases {
		if got := invertCDF(edges, cdf, tc.u); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("u=%g: got %g want %g", tc.u, got, tc.want)
		}
	}
}
