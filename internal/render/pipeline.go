package render

import (
	"fmt"
	"math/rand"

	"radiance/internal/config"
	"radiance/internal/field"
	"radiance/internal/geom"
	"radiance/internal/sampler"
)

// LevelOutput is everything one pipeline level produces for a ray. The last
// level is the fine output used for image metrics; earlier levels feed
// resampling and the coarse loss terms.
type LevelOutput struct {
	Edges   []float64
	Weights []float64

	Color    geom.Vec3
	Depth    float64
	Acc      float64
	Normal   geom.Vec3
	Diffuse  geom.Vec3
	Specular geom.Vec3

	// Per-sample field results, retained for the orientation and
	// predicted-normal losses.
	Samples []field.Result
}

// RayOutputs collects all levels rendered for one ray.
type RayOutputs struct {
	Levels []LevelOutput
}

// Fine returns the last level's output.
func (r RayOutputs) Fine() *LevelOutput {
	return &r.Levels[len(r.Levels)-1]
}

// Pipeline runs the proposal/resample/render sequence. It holds only
// read-only network parameters during rendering, so one Pipeline serves any
// number of concurrent rays.
type Pipeline struct {
	cfg  config.Config
	nerf *field.Evaluator
	prop *field.Evaluator
}

// NewPipeline builds the field networks for cfg. With single_mlp the
// proposal pass reuses the radiance field's parameters and only the output
// mask differs between passes.
func NewPipeline(cfg config.Config, rng *rand.Rand) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nerf, err := field.New(cfg, rng)
	if err != nil {
		return nil, err
	}
	prop := nerf
	if !cfg.SingleMLP {
		if prop, err = field.NewProposal(cfg, rng); err != nil {
			return nil, err
		}
	}
	return &Pipeline{cfg: cfg, nerf: nerf, prop: prop}, nil
}

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() config.Config { return p.cfg }

// Nerf exposes the radiance field for parameter access.
func (p *Pipeline) Nerf() *field.Evaluator { return p.nerf }

// Proposal exposes the proposal field; identical to Nerf when single_mlp.
func (p *Pipeline) Proposal() *field.Evaluator { return p.prop }

// SharedTrunk reports whether proposal and radiance fields share parameters.
func (p *Pipeline) SharedTrunk() bool { return p.nerf == p.prop }

// ParamCount is the total trainable parameter count across both fields.
func (p *Pipeline) ParamCount() int {
	n := p.nerf.ParamCount()
	if !p.SharedTrunk() {
		n += p.prop.ParamCount()
	}
	return n
}

// Flatten appends all trainable parameters to dst.
func (p *Pipeline) Flatten(dst []float64) []float64 {
	dst = p.nerf.Flatten(dst)
	if !p.SharedTrunk() {
		dst = p.prop.Flatten(dst)
	}
	return dst
}

// SetFlat restores all trainable parameters from src.
func (p *Pipeline) SetFlat(src []float64) error {
	n := p.nerf.ParamCount()
	if len(src) != p.ParamCount() {
		return fmt.Errorf("pipeline: parameter vector has %d values, want %d", len(src), p.ParamCount())
	}
	if err := p.nerf.SetFlat(src[:n]); err != nil {
		return err
	}
	if !p.SharedTrunk() {
		return p.prop.SetFlat(src[n:])
	}
	return nil
}

// RenderRay renders one ray through all configured levels. progress is the
// training fraction driving histogram annealing; train enables bottleneck
// noise. rng may be nil for deterministic evaluation.
func (p *Pipeline) RenderRay(rng *rand.Rand, ray geom.Ray, progress float64, train bool) (RayOutputs, error) {
	out := RayOutputs{Levels: make([]LevelOutput, 0, p.cfg.NumLevels)}

	var edges []float64
	for level := 0; level < p.cfg.NumLevels; level++ {
		final := level == p.cfg.NumLevels-1
		n := p.cfg.NumPropSamples
		if final {
			n = p.cfg.NumNerfSamples
		}

		if level == 0 {
			edges = sampler.Stratified(rng, ray.Near, ray.Far, n, p.cfg.SingleJitter)
		} else {
			prev := &out.Levels[level-1]
			var err error
			edges, err = sampler.Resample(rng, prev.Edges, prev.Weights, n, sampler.ResampleOptions{
				DilationMultiplier: p.cfg.DilationMultiplier,
				DilationBias:       p.cfg.DilationBias,
				ResamplePadding:    p.cfg.ResamplePadding,
				AnnealSlope:        p.cfg.AnnealSlope,
				Progress:           progress,
				SingleJitter:       p.cfg.SingleJitter,
			})
			if err != nil {
				return RayOutputs{}, err
			}
		}

		out.Levels = append(out.Levels, p.renderLevel(rng, ray, edges, final, train))
	}
	return out, nil
}

func (p *Pipeline) renderLevel(rng *rand.Rand, ray geom.Ray, edges []float64, final, train bool) LevelOutput {
	eval := p.prop
	mask := field.OutDensity
	if final {
		eval = p.nerf
		mask = field.OutAll
	} else {
		// Coarse levels stay density-only unless a coarse loss term needs
		// more; Query drops unsupported outputs on proposal-only fields.
		if p.cfg.DataCoarseLossMult > 0 {
			mask |= field.OutColor
		}
		if p.cfg.OrientationCoarseLossMult > 0 || p.cfg.PredictedNormalCoarseLossMult > 0 {
			mask |= field.OutNormals
		}
	}

	mids := sampler.Midpoints(edges)
	widths := sampler.Widths(edges)

	samples := make([]Sample, len(mids))
	results := make([]field.Result, len(mids))
	for i, t := range mids {
		res := eval.Query(ray.At(t), ray.Dir, widths[i], mask, rng, train)
		results[i] = res
		samples[i] = Sample{
			Distance: t,
			Width:    widths[i],
			Density:  res.Density,
			Color:    res.Color,
			Normal:   res.PredNormal,
		}
		if samples[i].Normal == (geom.Vec3{}) {
			samples[i].Normal = res.Normal
		}
	}

	background := geom.Vec3{}
	if p.cfg.WhiteBackground {
		background = geom.Splat(1)
	}
	composited := Composite(samples, background)

	level := LevelOutput{
		Edges:   edges,
		Weights: composited.Weights,
		Color:   composited.Color,
		Depth:   composited.Depth,
		Acc:     composited.Acc,
		Normal:  composited.Normal,
		Samples: results,
	}
	if final {
		for i, w := range composited.Weights {
			level.Diffuse = level.Diffuse.Add(results[i].Diffuse.Scale(w))
			level.Specular = level.Specular.Add(results[i].Specular.Scale(w))
		}
	}
	return level
}
