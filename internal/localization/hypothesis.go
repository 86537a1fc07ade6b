package localization

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/openfield-robotics/fieldpose/internal/geom"
)

// PoseHypothesis is one member of the hypothesis pool: a filtered pose
// estimate together with a validity in [0, 1] tracking how well recent
// observations have fit it, and the selection weighting derived from
// the validity. IDs are unique among live hypotheses and never reused
// while the hypothesis lives.
type PoseHypothesis struct {
	ID        int
	Validity  float64
	Weighting float64

	filter *PoseFilter

	// Per-frame scoring, reset by the pool before each correct step.
	frameObservations  int
	frameCompatibility float64
	lowWeightingStreak int
}

// NewPoseHypothesis creates a hypothesis at pose with an independent
// diagonal covariance from the given standard deviations.
func NewPoseHypothesis(pose geom.Pose, devXY, devRot float64, id int, validity float64) *PoseHypothesis {
	return &PoseHypothesis{
		ID:       id,
		Validity: clamp01(validity),
		filter:   NewPoseFilter(pose, devXY, devRot),
	}
}

// Pose returns the current pose estimate.
func (h *PoseHypothesis) Pose() geom.Pose { return h.filter.Mean() }

// Covariance returns a copy of the pose covariance.
func (h *PoseHypothesis) Covariance() *mat.SymDense { return h.filter.Covariance() }

// Predict advances the hypothesis by one frame of odometry.
func (h *PoseHypothesis) Predict(delta geom.Pose, noise ProcessNoise) {
	h.filter.Predict(delta, noise)
}

// Mirror replaces the state with its point reflection through the
// field center. Reflecting the position and rotating the heading by pi
// flips the sign of the position/heading cross covariances; everything
// else carries over. Applying Mirror twice restores the original state.
func (h *PoseHypothesis) Mirror() {
	cov := h.filter.Covariance()
	cov.SetSym(0, 2, -cov.At(0, 2))
	cov.SetSym(1, 2, -cov.At(1, 2))
	h.filter.SetState(h.filter.Mean().Mirrored(), cov)
}

// UpdateValidity folds the current frame's observation agreement into
// the validity as a moving average over the given window. frames < 1
// leaves the validity unchanged; frames == 1 adopts current outright.
func (h *PoseHypothesis) UpdateValidity(frames int, current float64) {
	if frames < 1 {
		return
	}
	n := float64(frames)
	h.Validity = (h.Validity*(n-1) + clamp01(current)) / n
}

// Invalidate marks the hypothesis as certainly wrong. It keeps its
// filter state but competes with zero validity and weighting until
// observations rehabilitate it or the pool replaces it.
func (h *PoseHypothesis) Invalidate() {
	h.Validity = 0
	h.Weighting = 0
}

// ComputeWeightingBasedOnValidity derives the selection weighting,
// floored at base so no live hypothesis drops out of selection
// entirely.
func (h *PoseHypothesis) ComputeWeightingBasedOnValidity(base float64) float64 {
	h.Weighting = math.Max(h.Validity, base)
	return h.Weighting
}

// CombinedVariance collapses the covariance into a single comparable
// spread measure: the worse positional variance plus the weighted
// heading variance. rotWeight converts rad² into the mm² scale.
func (h *PoseHypothesis) CombinedVariance(rotWeight float64) float64 {
	cov := h.filter.cov
	return math.Max(cov.At(0, 0), cov.At(1, 1)) + rotWeight*cov.At(2, 2)
}

// UpdateByLandmark corrects against a matched point landmark. Returns
// the innovation's squared Mahalanobis distance and whether the
// reading was applied.
func (h *PoseHypothesis) UpdateByLandmark(lm RegisteredLandmark) (float64, bool) {
	model := lm.Model
	d2, ok := h.filter.Update(Measurement{
		Value: []float64{lm.Reading.X, lm.Reading.Y},
		Cov:   lm.Cov,
		Observe: func(p geom.Pose) []float64 {
			expected := p.InverseTransformPoint(model)
			return []float64{expected.X, expected.Y}
		},
	})
	h.noteObservation(d2, ok)
	return d2, ok
}

// UpdateByLine corrects against a matched straight field line in the
// line's own frame: the signed perpendicular offset of the robot from
// the line and the relative line direction. The position along the
// line is unobservable from a partial segment and is not part of the
// measurement. Both offsets use the same orientation convention, so no
// sign juggling is needed between frames.
func (h *PoseHypothesis) UpdateByLine(l RegisteredLine) (float64, bool) {
	measuredOffset := l.Reading.SignedDistance(r2.Point{})
	measuredDirection := l.Reading.Direction()
	model := l.Model

	d2, ok := h.filter.Update(Measurement{
		Value:   []float64{measuredOffset, measuredDirection},
		Cov:     l.Cov,
		Angular: []bool{false, true},
		Observe: func(p geom.Pose) []float64 {
			offset := model.SignedDistance(p.Translation())
			direction := geom.AngleDiff(model.Direction(), p.Rot)
			return []float64{offset, direction}
		},
	})
	h.noteObservation(d2, ok)
	return d2, ok
}

// UpdateByLineOnCenterCircle corrects against a chord of the center
// circle. The chord midpoint sits sqrt(r² - (len/2)²) from the circle
// center, so the center is recovered as a virtual point landmark; of
// the two candidate centers, the one nearer the current expectation is
// fused. Treating the chord as a straight line at distance r would
// bias the estimate outward by the sagitta.
func (h *PoseHypothesis) UpdateByLineOnCenterCircle(l RegisteredLine, circleRadius float64) (float64, bool) {
	if circleRadius <= 0 || l.Cov == nil {
		return 0, false
	}
	halfChord := l.Reading.Length() / 2
	if halfChord > circleRadius {
		// Over-length chords collapse to a diameter.
		halfChord = circleRadius
	}
	centerOffset := math.Sqrt(circleRadius*circleRadius - halfChord*halfChord)

	mid := l.Reading.Center()
	sin, cos := math.Sincos(l.Reading.Direction())
	normal := r2.Point{X: -sin, Y: cos}

	candA := mid.Add(normal.Mul(centerOffset))
	candB := mid.Sub(normal.Mul(centerOffset))
	expected := h.filter.Mean().InverseTransformPoint(r2.Point{})
	reading := candA
	if candB.Sub(expected).Norm() < candA.Sub(expected).Norm() {
		reading = candB
	}

	// Reading covariance in the chord frame: offset noise acts along
	// the normal; direction noise sweeps the recovered center along the
	// chord. Rotate into the robot frame.
	varOffset := l.Cov.At(0, 0)
	varAlong := varOffset + centerOffset*centerOffset*l.Cov.At(1, 1)
	cov := mat.NewSymDense(2, nil)
	cov.SetSym(0, 0, cos*cos*varAlong+sin*sin*varOffset)
	cov.SetSym(0, 1, sin*cos*(varAlong-varOffset))
	cov.SetSym(1, 1, sin*sin*varAlong+cos*cos*varOffset)

	d2, ok := h.filter.Update(Measurement{
		Value: []float64{reading.X, reading.Y},
		Cov:   cov,
		Observe: func(p geom.Pose) []float64 {
			e := p.InverseTransformPoint(r2.Point{})
			return []float64{e.X, e.Y}
		},
	})
	h.noteObservation(d2, ok)
	return d2, ok
}

// UpdateByPose fuses an absolute pose measurement. This is the only
// correction that observes the full state at once, which makes it the
// strongest mirror disambiguator.
func (h *PoseHypothesis) UpdateByPose(m RegisteredAbsolutePoseMeasurement) (float64, bool) {
	d2, ok := h.filter.Update(Measurement{
		Value:   []float64{m.Reading.X, m.Reading.Y, m.Reading.Rot},
		Cov:     m.Cov,
		Angular: []bool{false, false, true},
		Observe: func(p geom.Pose) []float64 {
			return []float64{p.X, p.Y, p.Rot}
		},
	})
	h.noteObservation(d2, ok)
	return d2, ok
}

func (h *PoseHypothesis) noteObservation(d2 float64, ok bool) {
	if !ok {
		return
	}
	h.frameObservations++
	h.frameCompatibility += math.Exp(-0.5 * d2)
}

// resetFrameScore clears the per-frame accumulators before a correct
// step.
func (h *PoseHypothesis) resetFrameScore() {
	h.frameObservations = 0
	h.frameCompatibility = 0
}

// frameScore returns the mean observation compatibility of this frame
// and whether any observation was fused.
func (h *PoseHypothesis) frameScore() (float64, bool) {
	if h.frameObservations == 0 {
		return 0, false
	}
	return h.frameCompatibility / float64(h.frameObservations), true
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
