package geom

import "math"

// Ray is a camera ray with its valid parametric range. NoiseID identifies
// which perturbation of a primary ray this is; 0 means the primary itself.
// Rays are immutable once constructed.
type Ray struct {
	Origin  Vec3
	Dir     Vec3
	Near    float64
	Far     float64
	NoiseID int
}

func NewRay(origin, dir Vec3, near, far float64) Ray {
	return Ray{Origin: origin, Dir: dir, Near: near, Far: far}
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) Vec3 {
	return r.Origin.Add(r.Dir.Scale(t))
}

// OrthonormalBasis builds two unit vectors perpendicular to dir, forming a
// right-handed frame. dir is assumed to be unit length.
func OrthonormalBasis(dir Vec3) (Vec3, Vec3) {
	var up Vec3
	if math.Abs(dir.X) > 0.1 {
		up = Vec3{Y: 1}
	} else {
		up = Vec3{X: 1}
	}
	tangent := up.Cross(dir).Normalize()
	bitangent := dir.Cross(tangent)
	return tangent, bitangent
}

// RotateAround rotates v around the unit axis by angle radians (Rodrigues).
func RotateAround(v, axis Vec3, angle float64) Vec3 {
	cosA := math.Cos(angle)
	sinA := math.Sin(angle)
	return v.Scale(cosA).
		Add(axis.Cross(v).Scale(sinA)).
		Add(axis.Scale(axis.Dot(v) * (1 - cosA)))
}
