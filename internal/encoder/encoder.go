// Package encoder maps 3D points and view directions to the high-frequency
// feature vectors consumed by the field networks.
package encoder

import (
	"fmt"
	"math"

	"radiance/internal/geom"
)

// Positional is an integrated positional encoder. Each coordinate is lifted
// to sin/cos features at frequencies 2^minDeg .. 2^(maxDeg-1); each frequency
// is attenuated by the sample footprint so that features the sample cannot
// resolve fade to zero instead of aliasing.
type Positional struct {
	minDeg int
	maxDeg int
}

func NewPositional(minDeg, maxDeg int) (*Positional, error) {
	if minDeg < 0 || maxDeg <= minDeg {
		return nil, fmt.Errorf("invalid positional encoding degrees [%d, %d)", minDeg, maxDeg)
	}
	return &Positional{minDeg: minDeg, maxDeg: maxDeg}, nil
}

// Dim returns the encoded feature width.
func (e *Positional) Dim() int {
	return 3 * 2 * (e.maxDeg - e.minDeg)
}

// Encode appends the encoding of point p with the given footprint (the
// stddev of the sample's spatial extent) to dst and returns the result.
func (e *Positional) Encode(dst []float64, p geom.Vec3, footprint float64) []float64 {
	coords := [3]float64{p.X, p.Y, p.Z}
	for deg := e.minDeg; deg < e.maxDeg; deg++ {
		freq := math.Pow(2, float64(deg))
		// Expected value of sin/cos under a Gaussian of width footprint.
		atten := math.Exp(-0.5 * freq * freq * footprint * footprint)
		for _, c := range coords {
			s, cs := math.Sincos(freq * c)
			dst = append(dst, atten*s, atten*cs)
		}
	}
	return dst
}

// Directional encodes view (or reflection) directions on a spherical
// sin/cos basis. Roughness widens the directional lobe: higher roughness
// attenuates high-frequency bands, the directional analogue of the
// integrated positional footprint.
type Directional struct {
	deg int
}

func NewDirectional(deg int) (*Directional, error) {
	if deg <= 0 {
		return nil, fmt.Errorf("directional encoding degree must be > 0, got %d", deg)
	}
	return &Directional{deg: deg}, nil
}

func (e *Directional) Dim() int {
	return 3 * 2 * e.deg
}

// Encode appends the encoding of unit direction d to dst. roughness >= 0;
// zero roughness encodes the direction exactly.
func (e *Directional) Encode(dst []float64, d geom.Vec3, roughness float64) []float64 {
	coords := [3]float64{d.X, d.Y, d.Z}
	for deg := 0; deg < e.deg; deg++ {
		freq := math.Pow(2, float64(deg))
		atten := math.Exp(-0.5 * freq * freq * roughness)
		for _, c := range coords {
			s, cs := math.Sincos(freq * c)
			dst = append(dst, atten*s, atten*cs)
		}
	}
	return dst
}
