// Package consistency implements multi-ray geometric supervision: each
// primary ray is perturbed by small angular noise, the perturbed rays are
// rendered through the full pipeline, and the spread of their rendered
// attributes becomes a smoothness penalty.
package consistency

import (
	"math"
	"math/rand"

	"radiance/internal/config"
	"radiance/internal/geom"
	"radiance/internal/render"
)

// Values holds the raw per-attribute consistency measurements for one
// primary ray. Masked reports whether the primary ray's accumulated
// opacity cleared the threshold; when false all values are zero and the
// loss composer skips the ray.
type Values struct {
	Diffuse  float64
	Specular float64
	Normal   float64
	Distance float64
	Masked   bool
}

// Module fans primary rays out into noise rays and measures attribute
// divergence. It holds no mutable state; methods are safe to call from
// concurrent workers with per-worker rngs.
type Module struct {
	cfg      config.Config
	pipeline *render.Pipeline
}

func New(cfg config.Config, pipeline *render.Pipeline) *Module {
	return &Module{cfg: cfg, pipeline: pipeline}
}

// Perturb returns sample_noise_size freshly allocated auxiliary rays, each
// the primary rotated by up to sample_angle_range degrees around
// sample_noise_angles tangent-frame axes. The primary's buffers are never
// aliased.
func (m *Module) Perturb(rng *rand.Rand, primary geom.Ray) []geom.Ray {
	count := m.cfg.SampleNoiseSize
	if count <= 0 {
		return nil
	}
	axes := m.cfg.SampleNoiseAngles
	if axes <= 0 {
		axes = 1
	}
	maxAngle := m.cfg.SampleAngleRange * math.Pi / 180

	tangent, bitangent := geom.OrthonormalBasis(primary.Dir)
	frame := []geom.Vec3{tangent, bitangent}

	rays := make([]geom.Ray, count)
	for i := range rays {
		dir := primary.Dir
		for a := 0; a < axes; a++ {
			angle := (2*rng.Float64() - 1) * maxAngle
			dir = geom.RotateAround(dir, frame[a%len(frame)], angle)
		}
		rays[i] = geom.Ray{
			Origin:  primary.Origin,
			Dir:     dir.Normalize(),
			Near:    primary.Near,
			Far:     primary.Far,
			NoiseID: i + 1,
		}
	}
	return rays
}

// Measure renders the noise set for one primary ray and returns the raw
// consistency values. primaryOut is the primary ray's fine-level output.
// A zero angle range means no perturbation, hence zero divergence; the
// render is skipped entirely in that case.
func (m *Module) Measure(rng *rand.Rand, primary geom.Ray, primaryOut *render.LevelOutput, progress float64, train bool) (Values, error) {
	if primaryOut.Acc <= m.cfg.AccThresholdForConsistencyLoss {
		return Values{}, nil
	}
	if m.cfg.SampleNoiseSize <= 0 || m.cfg.SampleAngleRange == 0 {
		return Values{Masked: true}, nil
	}

	rays := m.Perturb(rng, primary)
	outs := make([]*render.LevelOutput, len(rays))
	for i, ray := range rays {
		rendered, err := m.pipeline.RenderRay(rng, ray, progress, train)
		if err != nil {
			return Values{}, err
		}
		outs[i] = rendered.Fine()
	}

	return Values{
		Diffuse:  measureVec(m.cfg.ConsistencyDiffuseLossType, primaryOut.Diffuse, outs, func(o *render.LevelOutput) geom.Vec3 { return o.Diffuse }),
		Specular: measureVec(m.cfg.ConsistencySpecularLossType, primaryOut.Specular, outs, func(o *render.LevelOutput) geom.Vec3 { return o.Specular }),
		Normal:   measureVec(m.cfg.ConsistencyNormalLossType, primaryOut.Normal, outs, func(o *render.LevelOutput) geom.Vec3 { return o.Normal }),
		Distance: measureScalar(m.cfg.ConsistencyDistanceLossType, primaryOut.Depth, outs, func(o *render.LevelOutput) float64 { return o.Depth }),
		Masked:   true,
	}, nil
}

// measureVec computes either the population variance of the attribute
// across the noise set ('var') or the mean squared divergence from the
// primary ('l2'), summed over vector components.
func measureVec(lossType string, primary geom.Vec3, outs []*render.LevelOutput, get func(*render.LevelOutput) geom.Vec3) float64 {
	n := float64(len(outs))
	if n == 0 {
		return 0
	}
	switch lossType {
	case config.LossL2:
		sum := 0.0
		for _, o := range outs {
			d := get(o).Sub(primary)
			sum += d.Dot(d)
		}
		return sum / n
	default: // config.LossVar
		mean := geom.Vec3{}
		for _, o := range outs {
			mean = mean.Add(get(o))
		}
		mean = mean.Scale(1 / n)
		sum := 0.0
		for _, o := range outs {
			d := get(o).Sub(mean)
			sum += d.Dot(d)
		}
		return sum / n
	}
}

func measureScalar(lossType string, primary float64, outs []*render.LevelOutput, get func(*render.LevelOutput) float64) float64 {
	n := float64(len(outs))
	if n == 0 {
		return 0
	}
	switch lossType {
	case config.LossL2:
		sum := 0.0
		for _, o := range outs {
			d := get(o) - primary
			sum += d * d
		}
		return sum / n
	default:
		mean := 0.0
		for _, o := range outs {
			mean += get(o)
		}
		mean /= n
		sum := 0.0
		for _, o := range outs {
			d := get(o) - mean
			sum += d * d
		}
		return sum / n
	}
}
