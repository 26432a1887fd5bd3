// Package render turns field queries into pixel values: the volumetric
// integrator composites per-sample outputs, and the pipeline drives the
// proposal/resample/render level sequence for each ray.
package render

import (
	"math"

	"radiance/internal/geom"
)

// Sample is one quadrature point along a ray, ordered by distance.
type Sample struct {
	Distance float64
	Width    float64
	Density  float64
	Color    geom.Vec3
	Normal   geom.Vec3
}

// Composited holds the integrator outputs for a single ray.
type Composited struct {
	Color  geom.Vec3
	Depth  float64
	Acc    float64
	Normal geom.Vec3
	// Weights retains the per-sample histogram for resampling and for the
	// entropy and interlevel losses.
	Weights []float64
}

// Optical depths above this are fully opaque; keeps exp well-conditioned
// when densities blow up.
const maxOpticalDepth = 80.0

// Composite applies the standard quadrature: alpha_i = 1 - exp(-density_i *
// width_i), weight_i = T_i * alpha_i with transmittance T_i accumulated
// front to back. The background is blended in proportion to the remaining
// transmittance.
func Composite(samples []Sample, background geom.Vec3) Composited {
	out := Composited{Weights: make([]float64, len(samples))}
	transmittance := 1.0
	normalSum := geom.Vec3{}
	for i, s := range samples {
		depth := s.Density * s.Width
		if depth < 0 || math.IsNaN(depth) {
			depth = 0
		} else if depth > maxOpticalDepth {
			depth = maxOpticalDepth
		}
		alpha := 1 - math.Exp(-depth)
		weight := transmittance * alpha
		out.Weights[i] = weight

		out.Color = out.Color.Add(s.Color.Scale(weight))
		out.Depth += weight * s.Distance
		out.Acc += weight
		normalSum = normalSum.Add(s.Normal.Scale(weight))

		transmittance *= 1 - alpha
	}
	out.Normal = normalSum.Normalize()
	out.Color = out.Color.Add(background.Scale(1 - out.Acc))
	return out
}
