// Package loss folds every supervision signal into the single scalar the
// optimizer consumes. Each term is independently weighted; a zero
// multiplier disables a term before any of its work is done.
package loss

import (
	"fmt"
	"math"

	"radiance/internal/config"
	"radiance/internal/consistency"
	"radiance/internal/geom"
	"radiance/internal/render"
)

// Term is one named, weighted component of the training loss.
type Term struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// BatchInput is everything the composer needs for one training step.
// Consistency may be nil when the consistency module is disabled.
type BatchInput struct {
	Outputs     []render.RayOutputs
	Truth       []geom.Vec3
	Dirs        []geom.Vec3
	Consistency []consistency.Values
	Step        int
}

// Composer computes the weighted loss terms for ray batches.
type Composer struct {
	cfg config.Config
}

func NewComposer(cfg config.Config) *Composer {
	return &Composer{cfg: cfg}
}

// ConsistencyWarmup returns the linear ramp applied to the consistency
// multipliers: 0 at step 0, reaching 1 once the configured fraction of
// max_steps has elapsed. A zero fraction disables the ramp.
func (c *Composer) ConsistencyWarmup(step int) float64 {
	if c.cfg.ConsistencyWarmupSteps <= 0 {
		return 1
	}
	full := c.cfg.ConsistencyWarmupSteps * float64(c.cfg.MaxSteps)
	if full <= 0 {
		return 1
	}
	scale := float64(step) / full
	if scale > 1 {
		return 1
	}
	return scale
}

// Compose returns the total loss and the individual enabled terms.
// Mismatched batch shapes are an input-contract violation and fail
// immediately.
func (c *Composer) Compose(in BatchInput) (float64, []Term, error) {
	if len(in.Outputs) != len(in.Truth) || len(in.Outputs) != len(in.Dirs) {
		return 0, nil, fmt.Errorf("loss: mismatched batch shapes: %d outputs, %d truth, %d dirs",
			len(in.Outputs), len(in.Truth), len(in.Dirs))
	}
	if in.Consistency != nil && len(in.Consistency) != len(in.Outputs) {
		return 0, nil, fmt.Errorf("loss: %d consistency values for %d rays", len(in.Consistency), len(in.Outputs))
	}
	if len(in.Outputs) == 0 {
		return 0, nil, fmt.Errorf("loss: empty batch")
	}

	var terms []Term
	add := func(name string, weight, value float64) {
		terms = append(terms, Term{Name: name, Weight: weight, Value: value})
	}

	if c.cfg.DataLossMult > 0 {
		add("data", c.cfg.DataLossMult, c.dataLoss(in, true))
	}
	if c.cfg.DataCoarseLossMult > 0 && c.cfg.NumLevels > 1 {
		add("data_coarse", c.cfg.DataCoarseLossMult, c.dataLoss(in, false))
	}
	if c.cfg.DistortionLossMult > 0 {
		add("distortion", c.cfg.DistortionLossMult, c.distortionLoss(in))
	}
	if c.cfg.InterlevelLossMult > 0 && c.cfg.NumLevels > 1 {
		add("interlevel", c.cfg.InterlevelLossMult, c.interlevelLoss(in))
	}
	if c.cfg.OrientationLossMult > 0 {
		add("orientation", c.cfg.OrientationLossMult, c.orientationLoss(in, true))
	}
	if c.cfg.OrientationCoarseLossMult > 0 && c.cfg.NumLevels > 1 {
		add("orientation_coarse", c.cfg.OrientationCoarseLossMult, c.orientationLoss(in, false))
	}
	if c.cfg.PredictedNormalLossMult > 0 && c.cfg.EnablePredNormals && !c.cfg.DisableDensityNormals {
		add("predicted_normal", c.cfg.PredictedNormalLossMult, c.predictedNormalLoss(in, true))
	}
	if c.cfg.PredictedNormalCoarseLossMult > 0 && c.cfg.EnablePredNormals && !c.cfg.DisableDensityNormals && c.cfg.NumLevels > 1 {
		add("predicted_normal_coarse", c.cfg.PredictedNormalCoarseLossMult, c.predictedNormalLoss(in, false))
	}
	if c.cfg.WeightsEntropyLossMult > 0 {
		add("weights_entropy", c.cfg.WeightsEntropyLossMult, c.weightsEntropyLoss(in))
	}
	if c.cfg.AccumulatedWeightsLossMult > 0 {
		add("accumulated_weights", c.cfg.AccumulatedWeightsLossMult, c.accumulatedWeightsLoss(in))
	}

	if in.Consistency != nil {
		warmup := c.ConsistencyWarmup(in.Step)
		for _, t := range []struct {
			name string
			mult float64
			get  func(consistency.Values) float64
		}{
			{"consistency_diffuse", c.cfg.ConsistencyDiffuseLossMult, func(v consistency.Values) float64 { return v.Diffuse }},
			{"consistency_specular", c.cfg.ConsistencySpecularLossMult, func(v consistency.Values) float64 { return v.Specular }},
			{"consistency_normal", c.cfg.ConsistencyNormalLossMult, func(v consistency.Values) float64 { return v.Normal }},
			{"consistency_distance", c.cfg.ConsistencyDistanceLossMult, func(v consistency.Values) float64 { return v.Distance }},
		} {
			if t.mult <= 0 {
				continue
			}
			add(t.name, warmup*t.mult, maskedMean(in.Consistency, t.get))
		}
	}

	total := 0.0
	for _, term := range terms {
		total += term.Weight * term.Value
	}
	return total, terms, nil
}

func (c *Composer) dataLoss(in BatchInput, fine bool) float64 {
	sum := 0.0
	count := 0
	for i, out := range in.Outputs {
		levels := out.Levels
		last := len(levels) - 1
		for level, lo := range levels {
			if fine != (level == last) {
				continue
			}
			diff := lo.Color.Sub(in.Truth[i])
			switch c.cfg.DataLossType {
			case config.LossMAE:
				sum += (math.Abs(diff.X) + math.Abs(diff.Y) + math.Abs(diff.Z)) / 3
			default:
				sum += diff.Dot(diff) / 3
			}
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// distortionLoss encourages each fine histogram to concentrate: the
// pairwise spread of weight mass along the normalized ray plus a
// self-width term.
func (c *Composer) distortionLoss(in BatchInput) float64 {
	sum := 0.0
	for _, out := range in.Outputs {
		fine := out.Fine()
		edges := fine.Edges
		near, far := edges[0], edges[len(edges)-1]
		span := far - near
		if span <= 0 {
			continue
		}
		n := len(fine.Weights)
		mids := make([]float64, n)
		widths := make([]float64, n)
		for i := 0; i < n; i++ {
			mids[i] = (0.5*(edges[i]+edges[i+1]) - near) / span
			widths[i] = (edges[i+1] - edges[i]) / span
		}
		ray := 0.0
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				ray += fine.Weights[i] * fine.Weights[j] * math.Abs(mids[i]-mids[j])
			}
			ray += fine.Weights[i] * fine.Weights[i] * widths[i] / 3
		}
		sum += ray
	}
	return sum / float64(len(in.Outputs))
}

// interlevelLoss penalizes fine weights exceeding the mass the coarse
// histogram assigned to the overlapping region, pulling the proposal
// distribution toward the fine one.
func (c *Composer) interlevelLoss(in BatchInput) float64 {
	const eps = 1e-7
	sum := 0.0
	count := 0
	for _, out := range in.Outputs {
		fine := out.Fine()
		for level := 0; level < len(out.Levels)-1; level++ {
			coarse := &out.Levels[level]
			for i, wf := range fine.Weights {
				bound := overlapMass(coarse.Edges, coarse.Weights, fine.Edges[i], fine.Edges[i+1])
				excess := wf - bound
				if excess > 0 {
					sum += excess * excess / (wf + eps)
				}
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// overlapMass sums the coarse weights of every interval overlapping
// [lo, hi].
func overlapMass(edges, weights []float64, lo, hi float64) float64 {
	mass := 0.0
	for i, w := range weights {
		if edges[i+1] <= lo || edges[i] >= hi {
			continue
		}
		mass += w
	}
	return mass
}

// orientationLoss penalizes normals facing away from the camera, weighted
// by each sample's contribution.
func (c *Composer) orientationLoss(in BatchInput, fine bool) float64 {
	sum := 0.0
	for i, out := range in.Outputs {
		dir := in.Dirs[i]
		last := len(out.Levels) - 1
		for level := range out.Levels {
			if fine != (level == last) {
				continue
			}
			lo := &out.Levels[level]
			for s, w := range lo.Weights {
				normal := lo.Samples[s].PredNormal
				if normal == (geom.Vec3{}) {
					normal = lo.Samples[s].Normal
				}
				if normal == (geom.Vec3{}) {
					continue
				}
				// dir points into the scene, so n·dir > 0 is backfacing.
				facing := normal.Dot(dir)
				if facing > 0 {
					sum += w * facing * facing
				}
			}
		}
	}
	return sum / float64(len(in.Outputs))
}

// predictedNormalLoss pulls the predicted-normal head toward the density
// gradient.
func (c *Composer) predictedNormalLoss(in BatchInput, fine bool) float64 {
	sum := 0.0
	for _, out := range in.Outputs {
		last := len(out.Levels) - 1
		for level := range out.Levels {
			if fine != (level == last) {
				continue
			}
			lo := &out.Levels[level]
			for s, w := range lo.Weights {
				pred := lo.Samples[s].PredNormal
				grad := lo.Samples[s].Normal
				if pred == (geom.Vec3{}) || grad == (geom.Vec3{}) {
					continue
				}
				sum += w * (1 - pred.Dot(grad))
			}
		}
	}
	return sum / float64(len(in.Outputs))
}

// weightsEntropyLoss penalizes diffuse weight histograms on rays that hit
// geometry, using its own opacity threshold.
func (c *Composer) weightsEntropyLoss(in BatchInput) float64 {
	sum := 0.0
	count := 0
	for _, out := range in.Outputs {
		fine := out.Fine()
		if fine.Acc <= c.cfg.AccThresholdForWeightsEntropyLoss {
			continue
		}
		entropy := 0.0
		for _, w := range fine.Weights {
			p := w / fine.Acc
			if p > 0 {
				entropy -= p * math.Log(p)
			}
		}
		sum += entropy
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func (c *Composer) accumulatedWeightsLoss(in BatchInput) float64 {
	sum := 0.0
	for _, out := range in.Outputs {
		diff := out.Fine().Acc - c.cfg.AccumulatedWeightsLossTarget
		sum += diff * diff
	}
	return sum / float64(len(in.Outputs))
}

// maskedMean averages an attribute over the rays that cleared the
// consistency opacity mask.
func maskedMean(values []consistency.Values, get func(consistency.Values) float64) float64 {
	sum := 0.0
	count := 0
	for _, v := range values {
		if !v.Masked {
			continue
		}
		sum += get(v)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
