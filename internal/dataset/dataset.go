// Package dataset defines the ray-batch boundary the training core
// consumes. Real capture loaders (llff, multi-view) live outside the core;
// the built-in synthetic sphere scene exists so training and evaluation
// can run end to end without external data.
package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"radiance/internal/geom"
)

// Batch is one set of rays with ground-truth colors, index-aligned.
type Batch struct {
	Rays   []geom.Ray
	Colors []geom.Vec3
}

// Validate enforces the input contract: mismatched shapes are fatal.
func (b Batch) Validate() error {
	if len(b.Rays) != len(b.Colors) {
		return fmt.Errorf("dataset: batch has %d rays but %d colors", len(b.Rays), len(b.Colors))
	}
	if len(b.Rays) == 0 {
		return fmt.Errorf("dataset: empty batch")
	}
	return nil
}

// Loader supplies per-ray training tuples and full-image evaluation grids.
type Loader interface {
	Name() string
	NextBatch(rng *rand.Rand, size int) Batch
	EvalRays(width, height int) Batch
}

// New returns the loader for the given kind. Capture-format loaders are
// external collaborators and are rejected here by name so a typo fails
// fast instead of silently training on the synthetic scene.
func New(kind string, near, far float64) (Loader, error) {
	switch kind {
	case "", "sphere":
		return NewSphere(near, far), nil
	case "llff", "blender", "multiview":
		return nil, fmt.Errorf("dataset: loader %q is supplied by an external collaborator", kind)
	default:
		return nil, fmt.Errorf("dataset: unknown loader %q", kind)
	}
}

// Sphere is a synthetic scene: a unit sphere at the origin whose surface
// color encodes its normal, over a black background.
type Sphere struct {
	radius    float64
	camRadius float64
	near, far float64
}

func NewSphere(near, far float64) *Sphere {
	return &Sphere{radius: 1, camRadius: 3, near: near, far: far}
}

func (s *Sphere) Name() string { return "sphere" }

// NextBatch draws rays from random viewpoints on the camera shell, aimed
// at jittered points near the sphere.
func (s *Sphere) NextBatch(rng *rand.Rand, size int) Batch {
	batch := Batch{
		Rays:   make([]geom.Ray, size),
		Colors: make([]geom.Vec3, size),
	}
	for i := 0; i < size; i++ {
		origin := randomUnit(rng).Scale(s.camRadius)
		target := randomUnit(rng).Scale(s.radius * rng.Float64() * 1.5)
		dir := target.Sub(origin).Normalize()
		ray := geom.NewRay(origin, dir, s.near, s.far)
		batch.Rays[i] = ray
		batch.Colors[i] = s.shade(ray)
	}
	return batch
}

// EvalRays builds a pinhole camera grid from a fixed viewpoint.
func (s *Sphere) EvalRays(width, height int) Batch {
	origin := geom.New(0, 0, s.camRadius)
	forward := geom.New(0, 0, -1)
	right := geom.New(1, 0, 0)
	up := geom.New(0, 1, 0)
	const fov = 0.6

	batch := Batch{
		Rays:   make([]geom.Ray, 0, width*height),
		Colors: make([]geom.Vec3, 0, width*height),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			u := (float64(x)+0.5)/float64(width)*2 - 1
			v := 1 - (float64(y)+0.5)/float64(height)*2
			dir := forward.
				Add(right.Scale(u * fov)).
				Add(up.Scale(v * fov * float64(height) / float64(width))).
				Normalize()
			ray := geom.NewRay(origin, dir, s.near, s.far)
			batch.Rays = append(batch.Rays, ray)
			batch.Colors = append(batch.Colors, s.shade(ray))
		}
	}
	return batch
}

// shade returns the ground-truth color: the hit normal remapped to [0, 1],
// or black when the ray misses.
func (s *Sphere) shade(ray geom.Ray) geom.Vec3 {
	t, ok := s.intersect(ray)
	if !ok {
		return geom.Vec3{}
	}
	normal := ray.At(t).Normalize()
	return normal.Scale(0.5).Add(geom.Splat(0.5))
}

// intersect solves the quadratic for a sphere at the origin.
func (s *Sphere) intersect(ray geom.Ray) (float64, bool) {
	oc := ray.Origin
	b := oc.Dot(ray.Dir)
	c := oc.Dot(oc) - s.radius*s.radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	t := -b - math.Sqrt(disc)
	if t < ray.Near || t > ray.Far {
		return 0, false
	}
	return t, true
}

func randomUnit(rng *rand.Rand) geom.Vec3 {
	z := 2*rng.Float64() - 1
	phi := 2 * math.Pi * rng.Float64()
	r := math.Sqrt(math.Max(0, 1-z*z))
	return geom.New(r*math.Cos(phi), r*math.Sin(phi), z)
}
