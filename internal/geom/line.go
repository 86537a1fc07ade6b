package geom

import (
	"math"

	"github.com/golang/geo/r2"
)

// LineSegment is a directed segment on the field plane, in millimetres.
// Direction matters for the sign of perpendicular offsets; matched
// observation segments are oriented consistently with their field line.
type LineSegment struct {
	From r2.Point `json:"from"`
	To   r2.Point `json:"to"`
}

// Length returns the segment length.
func (l LineSegment) Length() float64 {
	return l.To.Sub(l.From).Norm()
}

// Center returns the segment midpoint.
func (l LineSegment) Center() r2.Point {
	return l.From.Add(l.To).Mul(0.5)
}

// Direction returns the From->To heading in radians.
func (l LineSegment) Direction() float64 {
	d := l.To.Sub(l.From)
	return math.Atan2(d.Y, d.X)
}

// SignedDistance returns the perpendicular distance from pt to the
// infinite line through the segment, positive on the left of the
// From->To direction. A zero-length segment falls back to the point
// distance.
func (l LineSegment) SignedDistance(pt r2.Point) float64 {
	d := l.To.Sub(l.From)
	n := d.Norm()
	if n == 0 {
		return pt.Sub(l.From).Norm()
	}
	return (d.X*(pt.Y-l.From.Y) - d.Y*(pt.X-l.From.X)) / n
}

// Distance returns the absolute perpendicular distance from pt to the
// infinite line through the segment.
func (l LineSegment) Distance(pt r2.Point) float64 {
	return math.Abs(l.SignedDistance(pt))
}

// ClosestPoint returns the point on the segment (not the infinite line)
// closest to pt.
func (l LineSegment) ClosestPoint(pt r2.Point) r2.Point {
	d := l.To.Sub(l.From)
	n2 := d.X*d.X + d.Y*d.Y
	if n2 == 0 {
		return l.From
	}
	t := pt.Sub(l.From).Dot(d) / n2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return l.From.Add(d.Mul(t))
}
