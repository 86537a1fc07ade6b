// Package geom provides the planar geometry shared by the localization
// packages: field-plane poses, angle normalization, and line segments.
//
// Units follow the field convention throughout: millimetres for
// positions, radians for headings. Headings are kept in the half-open
// interval (-pi, pi].
package geom

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// Pose is a position and heading on the field plane.
type Pose struct {
	X   float64 `json:"x_mm"`
	Y   float64 `json:"y_mm"`
	Rot float64 `json:"rot_rad"`
}

// NewPose returns a pose with the heading normalized to (-pi, pi].
func NewPose(x, y, rot float64) Pose {
	return Pose{X: x, Y: y, Rot: NormalizeAngle(rot)}
}

// NormalizeAngle maps an angle in radians onto (-pi, pi].
func NormalizeAngle(a float64) float64 {
	if a > -math.Pi && a <= math.Pi {
		return a
	}
	a = math.Mod(a, 2*math.Pi)
	switch {
	case a > math.Pi:
		a -= 2 * math.Pi
	case a <= -math.Pi:
		a += 2 * math.Pi
	}
	return a
}

// AngleDiff returns the smallest signed rotation from b to a, in (-pi, pi].
func AngleDiff(a, b float64) float64 {
	return NormalizeAngle(a - b)
}

// Translation returns the position component as a plane point.
func (p Pose) Translation() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// Compose applies o in p's local frame and returns the combined pose.
func (p Pose) Compose(o Pose) Pose {
	s, c := math.Sincos(p.Rot)
	return Pose{
		X:   p.X + c*o.X - s*o.Y,
		Y:   p.Y + s*o.X + c*o.Y,
		Rot: NormalizeAngle(p.Rot + o.Rot),
	}
}

// Inverse returns the pose q for which p.Compose(q) is the identity.
func (p Pose) Inverse() Pose {
	s, c := math.Sincos(p.Rot)
	return Pose{
		X:   -(c*p.X + s*p.Y),
		Y:   s*p.X - c*p.Y,
		Rot: NormalizeAngle(-p.Rot),
	}
}

// TransformPoint maps a point from p's local frame into the field frame.
func (p Pose) TransformPoint(local r2.Point) r2.Point {
	s, c := math.Sincos(p.Rot)
	return r2.Point{
		X: p.X + c*local.X - s*local.Y,
		Y: p.Y + s*local.X + c*local.Y,
	}
}

// InverseTransformPoint maps a field-frame point into p's local frame.
func (p Pose) InverseTransformPoint(field r2.Point) r2.Point {
	s, c := math.Sincos(p.Rot)
	dx := field.X - p.X
	dy := field.Y - p.Y
	return r2.Point{X: c*dx + s*dy, Y: -s*dx + c*dy}
}

// Mirrored returns the pose reflected through the field center: the
// position is negated and the heading rotated by half a turn.
func (p Pose) Mirrored() Pose {
	return Pose{X: -p.X, Y: -p.Y, Rot: NormalizeAngle(p.Rot + math.Pi)}
}

// TranslationDistance returns the planar distance to o in millimetres.
func (p Pose) TranslationDistance(o Pose) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// IsFinite reports whether all components are finite numbers.
func (p Pose) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Rot) && !math.IsInf(p.Rot, 0)
}

// String formats the pose for log output.
func (p Pose) String() string {
	return fmt.Sprintf("(x=%.0fmm y=%.0fmm rot=%.3frad)", p.X, p.Y, p.Rot)
}
