package localization

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/openfield-robotics/fieldpose/internal/field"
	"github.com/openfield-robotics/fieldpose/internal/geom"
)

// RegisteredLandmark is a point feature matched to a field landmark by
// the registration stage. Reading is the measured position in the
// robot frame; Cov is its 2x2 covariance.
type RegisteredLandmark struct {
	Kind    field.LandmarkKind
	Model   r2.Point // field-frame landmark position
	Reading r2.Point // robot-frame measured position
	Cov     *mat.SymDense
}

// RegisteredLine is a measured line segment matched to a field line.
// Reading endpoints are in the robot frame, oriented consistently with
// the Model direction. Cov is over (perpendicular offset mm, direction
// rad). OnCenterCircle marks chords of the center circle, which are
// corrected against the circle geometry rather than a straight line.
type RegisteredLine struct {
	Reading        geom.LineSegment
	Model          geom.LineSegment
	Cov            *mat.SymDense
	OnCenterCircle bool
}

// RegisteredAbsolutePoseMeasurement is a full pose fix in the field
// frame, e.g. from a uniquely identifiable marker arrangement.
type RegisteredAbsolutePoseMeasurement struct {
	Reading geom.Pose
	Cov     *mat.SymDense // 3x3 over (x, y, rot)
}

// ObservationSet is one frame's registered observations, grouped by
// kind. The pool consumes the groups in a fixed order so a frame's
// corrections are deterministic.
type ObservationSet struct {
	Landmarks []RegisteredLandmark
	Lines     []RegisteredLine
	Poses     []RegisteredAbsolutePoseMeasurement
}

// Empty reports whether the set carries no observations at all.
func (s ObservationSet) Empty() bool {
	return len(s.Landmarks) == 0 && len(s.Lines) == 0 && len(s.Poses) == 0
}

// Count returns the total number of observations in the set.
func (s ObservationSet) Count() int {
	return len(s.Landmarks) + len(s.Lines) + len(s.Poses)
}
