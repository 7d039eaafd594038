package core

import "math"

// EarthRadiusKm is the mean Earth radius used for the simple link and
// shadow geometry in this package (kilometres).
const EarthRadiusKm = 6371.0

// Vec3 is an ECI/ECEF-style vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// SlantRangeKm returns the straight-line distance between the satellite and
// a ground point, both in kilometres.
func SlantRangeKm(sat, ground Vec3) float64 {
	return sat.Sub(ground).Norm()
}

// LineOfSight reports whether the straight segment between p1 and p2 clears
// the Earth sphere. If the segment intersects the sphere, the Earth blocks
// the path.
func LineOfSight(p1, p2 Vec3) bool {
	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		// Same point: clear if outside the sphere.
		return p1.Dot(p1) > EarthRadiusKm*EarthRadiusKm
	}

	// Closest point on the segment to the Earth's centre.
	t := -p1.Dot(v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := Vec3{
		X: p1.X + t*v.X,
		Y: p1.Y + t*v.Y,
		Z: p1.Z + t*v.Z,
	}
	return closest.Dot(closest) > EarthRadiusKm*EarthRadiusKm
}

// InEclipse reports whether the satellite sits inside the Earth's
// cylindrical shadow for the given sun direction (unit vector, ECI).
func InEclipse(sat Vec3, sunDir Vec3) bool {
	// Sunlit whenever the satellite is on the day side.
	along := sat.Dot(sunDir)
	if along > 0 {
		return false
	}
	// On the night side: shadowed when the perpendicular distance from the
	// shadow axis is under one Earth radius.
	perp := sat.Sub(Vec3{X: along * sunDir.X, Y: along * sunDir.Y, Z: along * sunDir.Z})
	return perp.Norm() < EarthRadiusKm
}

// SunDirectionECI approximates the unit vector from Earth to Sun in ECI for
// a given fractional day of year. Low fidelity, but stable and cheap; the
// training product only needs a plausible day/night cycle.
func SunDirectionECI(dayOfYear float64) Vec3 {
	const obliquity = 23.44 * math.Pi / 180
	lambda := 2 * math.Pi * dayOfYear / 365.25
	return Vec3{
		X: math.Cos(lambda),
		Y: math.Sin(lambda) * math.Cos(obliquity),
		Z: math.Sin(lambda) * math.Sin(obliquity),
	}
}
