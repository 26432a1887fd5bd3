// Package field implements the density/appearance networks queried along
// rays: a shared trunk with density, geometry and appearance heads, and a
// density-only proposal variant used to guide hierarchical sampling.
package field

import (
	"fmt"
	"math"
	"math/rand"

	"radiance/internal/config"
	"radiance/internal/encoder"
	"radiance/internal/geom"
)

// Outputs selects which heads a query computes. Proposal passes request
// OutDensity only and skip every appearance head up front.
type Outputs uint8

const (
	OutDensity Outputs = 1 << iota
	OutColor
	OutNormals

	OutAll = OutDensity | OutColor | OutNormals
)

// Result is the per-sample query result. Fields outside the requested
// output mask are zero.
type Result struct {
	Density    float64
	Color      geom.Vec3
	Diffuse    geom.Vec3
	Specular   geom.Vec3
	Tint       geom.Vec3
	Roughness  float64
	Normal     geom.Vec3 // from the density gradient
	PredNormal geom.Vec3 // from the dedicated head
}

// Raw density head output is shifted down so freshly initialized fields
// start mostly transparent.
const densityBias = -1.0

// Step used for the finite-difference density gradient.
const normalEps = 1e-3

// Evaluator is a capability-polymorphic field network: the full radiance
// field and the proposal field are the same type, differing only in which
// heads exist. With single_mlp the pipeline holds one Evaluator and selects
// heads per pass through the Outputs mask.
type Evaluator struct {
	cfg    config.Config
	posEnc *encoder.Positional
	dirEnc *encoder.Directional

	trunk       *MLP
	densityHead *MLP
	bottleneck  *MLP
	normalHead  *MLP // nil unless enable_pred_normals
	diffuseHead *MLP // nil unless use_diffuse_color
	tintHead    *MLP // nil unless use_specular_tint
	roughHead   *MLP
	appearance  *MLP

	hasAppearance bool
}

// New constructs the full radiance field network.
func New(cfg config.Config, rng *rand.Rand) (*Evaluator, error) {
	return newEvaluator(cfg, rng, true)
}

// NewProposal constructs a density-only field with its own parameters,
// used when single_mlp is false.
func NewProposal(cfg config.Config, rng *rand.Rand) (*Evaluator, error) {
	return newEvaluator(cfg, rng, false)
}

func newEvaluator(cfg config.Config, rng *rand.Rand, appearance bool) (*Evaluator, error) {
	posEnc, err := encoder.NewPositional(0, cfg.DegPoint)
	if err != nil {
		return nil, err
	}
	dirEnc, err := encoder.NewDirectional(cfg.DegView)
	if err != nil {
		return nil, err
	}

	e := &Evaluator{
		cfg:           cfg,
		posEnc:        posEnc,
		dirEnc:        dirEnc,
		hasAppearance: appearance,
	}

	if e.trunk, err = NewMLP(posEnc.Dim(), cfg.NetWidth, cfg.NetDepth, cfg.NetWidth, rng); err != nil {
		return nil, err
	}
	if e.densityHead, err = NewMLP(cfg.NetWidth, 0, 0, 1, rng); err != nil {
		return nil, err
	}
	if !appearance {
		return e, nil
	}

	if e.bottleneck, err = NewMLP(cfg.NetWidth, 0, 0, cfg.BottleneckWidth, rng); err != nil {
		return nil, err
	}
	if cfg.EnablePredNormals {
		if e.normalHead, err = NewMLP(cfg.NetWidth, 0, 0, 3, rng); err != nil {
			return nil, err
		}
	}
	if cfg.UseDiffuseColor {
		if e.diffuseHead, err = NewMLP(cfg.NetWidth, 0, 0, 3, rng); err != nil {
			return nil, err
		}
	}
	if cfg.UseSpecularTint {
		if e.tintHead, err = NewMLP(cfg.NetWidth, 0, 0, 3, rng); err != nil {
			return nil, err
		}
	}
	if e.roughHead, err = NewMLP(cfg.NetWidth, 0, 0, 1, rng); err != nil {
		return nil, err
	}

	appIn := cfg.BottleneckWidth + dirEnc.Dim()
	if cfg.UseNDotV {
		appIn++
	}
	if e.appearance, err = NewMLP(appIn, cfg.NetWidth, 2, 3, rng); err != nil {
		return nil, err
	}
	return e, nil
}

// HasAppearance reports whether this field can produce color outputs.
func (e *Evaluator) HasAppearance() bool { return e.hasAppearance }

// Query evaluates the field at point p viewed along viewDir (unit vector
// from camera toward the scene). footprint is the spatial extent of the
// sample interval. rng supplies bottleneck noise and may be nil when
// train is false.
func (e *Evaluator) Query(p, viewDir geom.Vec3, footprint float64, mask Outputs, rng *rand.Rand, train bool) Result {
	if !e.hasAppearance {
		mask &= OutDensity
	}

	feat := e.trunkFeatures(p, footprint)
	var res Result
	res.Density = e.densityFrom(feat)

	if mask&OutNormals != 0 {
		if !e.cfg.DisableDensityNormals {
			res.Normal = e.densityNormal(p, footprint)
		}
		if e.normalHead != nil {
			raw := e.normalHead.Forward(nil, feat)
			res.PredNormal = geom.New(raw[0], raw[1], raw[2]).Normalize()
		}
	}

	if mask&OutColor == 0 {
		return res
	}

	shadingNormal := res.PredNormal
	if shadingNormal == (geom.Vec3{}) {
		shadingNormal = res.Normal
	}

	bottleneck := e.bottleneck.Forward(nil, feat)
	if train && e.cfg.BottleneckNoise > 0 && rng != nil {
		for i := range bottleneck {
			bottleneck[i] += rng.NormFloat64() * e.cfg.BottleneckNoise
		}
	}

	// Direction of observation, pointing back toward the camera.
	toCamera := viewDir.Scale(-1)
	encDir := viewDir
	if e.cfg.UseReflections && shadingNormal != (geom.Vec3{}) {
		encDir = shadingNormal.Scale(2 * shadingNormal.Dot(toCamera)).Sub(toCamera)
	}

	res.Roughness = softplus(e.roughHead.Forward(nil, feat)[0])

	appIn := make([]float64, 0, e.appearance.InDim())
	appIn = append(appIn, bottleneck...)
	appIn = e.dirEnc.Encode(appIn, encDir, res.Roughness)
	if e.cfg.UseNDotV {
		appIn = append(appIn, shadingNormal.Dot(toCamera))
	}

	appOut := e.appearance.Forward(nil, appIn)
	appColor := geom.New(sigmoid(appOut[0]), sigmoid(appOut[1]), sigmoid(appOut[2]))

	if e.diffuseHead != nil {
		rawDiffuse := e.diffuseHead.Forward(nil, feat)
		res.Diffuse = geom.New(sigmoid(rawDiffuse[0]), sigmoid(rawDiffuse[1]), sigmoid(rawDiffuse[2]))
		res.Specular = appColor
		if e.tintHead != nil {
			rawTint := e.tintHead.Forward(nil, feat)
			res.Tint = geom.New(sigmoid(rawTint[0]), sigmoid(rawTint[1]), sigmoid(rawTint[2]))
			res.Specular = appColor.Mul(res.Tint)
		}
		res.Color = res.Diffuse.Add(res.Specular).Clamp(0, 1)
	} else {
		res.Color = appColor
		res.Specular = appColor
	}
	return res
}

// Density evaluates only the density at p, the short-circuit path used by
// proposal passes and by the finite-difference normal.
func (e *Evaluator) Density(p geom.Vec3, footprint float64) float64 {
	return e.densityFrom(e.trunkFeatures(p, footprint))
}

func (e *Evaluator) trunkFeatures(p geom.Vec3, footprint float64) []float64 {
	enc := e.posEnc.Encode(make([]float64, 0, e.posEnc.Dim()), p, footprint)
	return e.trunk.Forward(nil, enc)
}

func (e *Evaluator) densityFrom(feat []float64) float64 {
	return softplus(e.densityHead.Forward(nil, feat)[0] + densityBias)
}

// densityNormal is the negated, normalized density gradient, estimated by
// central differences.
func (e *Evaluator) densityNormal(p geom.Vec3, footprint float64) geom.Vec3 {
	grad := geom.New(
		e.Density(geom.New(p.X+normalEps, p.Y, p.Z), footprint)-e.Density(geom.New(p.X-normalEps, p.Y, p.Z), footprint),
		e.Density(geom.New(p.X, p.Y+normalEps, p.Z), footprint)-e.Density(geom.New(p.X, p.Y-normalEps, p.Z), footprint),
		e.Density(geom.New(p.X, p.Y, p.Z+normalEps), footprint)-e.Density(geom.New(p.X, p.Y, p.Z-normalEps), footprint),
	)
	return grad.Scale(-1).Normalize()
}

// ParamCount returns the number of trainable scalars across all heads.
func (e *Evaluator) ParamCount() int {
	n := 0
	for _, m := range e.parts() {
		n += m.ParamCount()
	}
	return n
}

// Flatten appends every parameter to dst in a stable order.
func (e *Evaluator) Flatten(dst []float64) []float64 {
	for _, m := range e.parts() {
		dst = m.Flatten(dst)
	}
	return dst
}

// SetFlat restores all parameters from src, which must have exactly
// ParamCount entries.
func (e *Evaluator) SetFlat(src []float64) error {
	offset := 0
	for _, m := range e.parts() {
		used, err := m.SetFlat(src[offset:])
		if err != nil {
			return err
		}
		offset += used
	}
	if offset != len(src) {
		return fmt.Errorf("field: parameter vector has %d values, want %d", len(src), offset)
	}
	return nil
}

func (e *Evaluator) parts() []*MLP {
	parts := []*MLP{e.trunk, e.densityHead}
	for _, m := range []*MLP{e.bottleneck, e.normalHead, e.diffuseHead, e.tintHead, e.roughHead, e.appearance} {
		if m != nil {
			parts = append(parts, m)
		}
	}
	return parts
}

func softplus(x float64) float64 {
	// log(1+exp(x)), stable for large |x|.
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
