package sim

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/openfield-robotics/fieldpose/internal/field"
	"github.com/openfield-robotics/fieldpose/internal/geom"
	"github.com/openfield-robotics/fieldpose/internal/localization"
)

const (
	// Variance floors keep zero-noise sensor profiles well conditioned.
	minReadingVariance = 1.0  // mm²
	minAngularVariance = 1e-6 // rad²

	// Span of line visible around the closest point, and the shortest
	// reading that can still orient a line.
	lineReadingHalfSpan  = 400.0
	minLineReadingLength = 150.0

	// An estimate counts as converged below these errors.
	convergedTranslation = 500.0
	convergedRotation    = 0.5
)

// FrameRecord is the per-frame outcome of a run.
type FrameRecord struct {
	Frame            int       `json:"frame"`
	Truth            geom.Pose `json:"truth"`
	Estimate         geom.Pose `json:"estimate"`
	Validity         float64   `json:"validity"`
	Quality          string    `json:"quality"`
	HypothesisCount  int       `json:"hypothesis_count"`
	ObservationCount int       `json:"observation_count"`
	TranslationError float64   `json:"translation_error_mm"`
	RotationError    float64   `json:"rotation_error_rad"`
	MirrorError      bool      `json:"mirror_error"`
}

// RunSummary aggregates a run for storage and reporting.
type RunSummary struct {
	Frames                int     `json:"frames"`
	MeanTranslationError  float64 `json:"mean_translation_error_mm"`
	MaxTranslationError   float64 `json:"max_translation_error_mm"`
	MeanRotationError     float64 `json:"mean_rotation_error_rad"`
	FinalTranslationError float64 `json:"final_translation_error_mm"`
	ConvergenceFrame      int     `json:"convergence_frame"` // -1 when never reached
	SuperbFrames          int     `json:"superb_frames"`
	OkayFrames            int     `json:"okay_frames"`
	PoorFrames            int     `json:"poor_frames"`
	MirroredFrames        int     `json:"mirrored_frames"`
}

// RunResult is one completed scenario run.
type RunResult struct {
	RunID    string                   `json:"run_id"`
	Scenario Scenario                 `json:"scenario"`
	Records  []FrameRecord            `json:"records"`
	Summary  RunSummary               `json:"summary"`
	Metrics  localization.PoolMetrics `json:"metrics"`
}

// Run walks the scenario's truth, feeds the pool synthetic odometry
// and observations, and records the estimates. All randomness comes
// from the scenario seed, so identical scenarios produce identical
// records; only the RunID differs between runs.
func Run(scn *Scenario, fm *field.Model, poolCfg localization.PoolConfig) (*RunResult, error) {
	if err := scn.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(scn.Seed))
	pool := localization.NewHypothesisPool(poolCfg, fm, scn.Seed+1)
	if scn.TrustStart {
		pool.Reset([]geom.Pose{scn.Start})
	}

	kidnapAt := make(map[int]geom.Pose, len(scn.Kidnaps))
	for _, k := range scn.Kidnaps {
		kidnapAt[k.Frame] = k.To
	}

	truth := scn.Start
	walker := &waypointWalker{waypoints: scn.Waypoints, speed: scn.Speed}
	records := make([]FrameRecord, 0, scn.Frames)

	for frame := 0; frame < scn.Frames; frame++ {
		prev := truth
		if to, ok := kidnapAt[frame]; ok {
			// A carried robot produces no odometry.
			truth = to
			prev = truth
		} else {
			truth = walker.step(truth)
		}

		in := localization.FrameInput{
			Odometry:      noisyOdometry(prev.Inverse().Compose(truth), scn.Sensor.OdometryNoiseFactor, rng),
			MotionQuality: scn.Sensor.MotionQuality,
		}
		if !scn.blackedOut(frame) {
			in.Observations = synthesizeObservations(truth, fm, scn.Sensor, frame, rng)
		}

		est := pool.Update(in)
		transErr := est.Pose.TranslationDistance(truth)
		records = append(records, FrameRecord{
			Frame:            frame,
			Truth:            truth,
			Estimate:         est.Pose,
			Validity:         est.Validity,
			Quality:          string(est.Quality),
			HypothesisCount:  est.HypothesisCount,
			ObservationCount: in.Observations.Count(),
			TranslationError: transErr,
			RotationError:    math.Abs(geom.AngleDiff(est.Pose.Rot, truth.Rot)),
			// The estimate tracks the reflected truth: the published
			// pose picked the wrong side of the symmetric field.
			MirrorError: est.Pose.TranslationDistance(truth.Mirrored()) < transErr,
		})
	}

	return &RunResult{
		RunID:    uuid.NewString(),
		Scenario: *scn,
		Records:  records,
		Summary:  summarize(records),
		Metrics:  pool.Metrics(),
	}, nil
}

// waypointWalker advances the true pose along the waypoint chain at a
// fixed speed, facing the direction of travel. Waypoint headings are
// ignored.
type waypointWalker struct {
	waypoints []geom.Pose
	speed     float64
	next      int
}

func (w *waypointWalker) step(truth geom.Pose) geom.Pose {
	remaining := w.speed
	for remaining > 0 && w.next < len(w.waypoints) {
		target := w.waypoints[w.next].Translation()
		to := target.Sub(truth.Translation())
		dist := to.Norm()
		if dist <= remaining {
			rot := truth.Rot
			if dist > 0 {
				rot = math.Atan2(to.Y, to.X)
			}
			truth = geom.NewPose(target.X, target.Y, rot)
			remaining -= dist
			w.next++
			continue
		}
		dir := to.Mul(1 / dist)
		pos := truth.Translation().Add(dir.Mul(remaining))
		return geom.NewPose(pos.X, pos.Y, math.Atan2(to.Y, to.X))
	}
	return truth
}

func noisyOdometry(delta geom.Pose, factor float64, rng *rand.Rand) geom.Pose {
	if factor == 0 {
		return delta
	}
	return geom.NewPose(
		delta.X+rng.NormFloat64()*factor*math.Abs(delta.X),
		delta.Y+rng.NormFloat64()*factor*math.Abs(delta.Y),
		delta.Rot+rng.NormFloat64()*factor*math.Abs(delta.Rot),
	)
}

// synthesizeObservations builds the frame's registered observation set
// from everything the sensor cone currently covers. Association is
// perfect: each reading carries its true model feature.
func synthesizeObservations(truth geom.Pose, fm *field.Model, sensor SensorProfile, frame int, rng *rand.Rand) localization.ObservationSet {
	var obs localization.ObservationSet

	landmarkVar := varianceFloor(sensor.LandmarkNoise*sensor.LandmarkNoise, minReadingVariance)
	for _, lm := range fm.Landmarks {
		rel := truth.InverseTransformPoint(lm.Position)
		if !visible(rel, sensor) {
			continue
		}
		obs.Landmarks = append(obs.Landmarks, localization.RegisteredLandmark{
			Kind:  lm.Kind,
			Model: lm.Position,
			Reading: r2.Point{
				X: rel.X + rng.NormFloat64()*sensor.LandmarkNoise,
				Y: rel.Y + rng.NormFloat64()*sensor.LandmarkNoise,
			},
			Cov: diagCov2(landmarkVar, landmarkVar),
		})
	}

	for _, seg := range fm.Lines {
		if rl, ok := lineReading(truth, seg, sensor, rng); ok {
			obs.Lines = append(obs.Lines, rl)
		}
	}
	if chord, ok := circleChordReading(truth, fm.CenterCircleRadius(), sensor, rng); ok {
		obs.Lines = append(obs.Lines, chord)
	}

	if sensor.PoseCadence > 0 && frame%sensor.PoseCadence == 0 {
		cov := mat.NewSymDense(3, nil)
		vXY := varianceFloor(sensor.PoseNoiseXY*sensor.PoseNoiseXY, minReadingVariance)
		cov.SetSym(0, 0, vXY)
		cov.SetSym(1, 1, vXY)
		cov.SetSym(2, 2, varianceFloor(sensor.PoseNoiseRot*sensor.PoseNoiseRot, minAngularVariance))
		obs.Poses = append(obs.Poses, localization.RegisteredAbsolutePoseMeasurement{
			Reading: geom.NewPose(
				truth.X+rng.NormFloat64()*sensor.PoseNoiseXY,
				truth.Y+rng.NormFloat64()*sensor.PoseNoiseXY,
				truth.Rot+rng.NormFloat64()*sensor.PoseNoiseRot,
			),
			Cov: cov,
		})
	}
	return obs
}

// lineReading clips the field line to the span around its closest
// visible point and perturbs the clip with offset and direction noise.
func lineReading(truth geom.Pose, model geom.LineSegment, sensor SensorProfile, rng *rand.Rand) (localization.RegisteredLine, bool) {
	pos := truth.Translation()
	closest := model.ClosestPoint(pos)
	if !visible(truth.InverseTransformPoint(closest), sensor) {
		return localization.RegisteredLine{}, false
	}

	d := model.To.Sub(model.From)
	length := d.Norm()
	if length == 0 {
		return localization.RegisteredLine{}, false
	}
	along := d.Mul(1 / length)
	t := closest.Sub(model.From).Dot(along)
	start := math.Max(0, t-lineReadingHalfSpan)
	end := math.Min(length, t+lineReadingHalfSpan)
	if end-start < minLineReadingLength {
		return localization.RegisteredLine{}, false
	}

	// Reading endpoints follow the model direction, so signed offsets
	// agree between frames.
	from, to := perturbSegment(
		truth.InverseTransformPoint(model.From.Add(along.Mul(start))),
		truth.InverseTransformPoint(model.From.Add(along.Mul(end))),
		sensor, rng,
	)
	return localization.RegisteredLine{
		Reading: geom.LineSegment{From: from, To: to},
		Model:   model,
		Cov:     lineCov(sensor),
	}, true
}

// circleChordReading synthesizes a secant of the center circle on the
// arc facing the robot; both endpoints lie exactly on the circle.
func circleChordReading(truth geom.Pose, radius float64, sensor SensorProfile, rng *rand.Rand) (localization.RegisteredLine, bool) {
	if radius <= 0 {
		return localization.RegisteredLine{}, false
	}
	pos := truth.Translation()
	toRobot := math.Atan2(pos.Y, pos.X)
	spread := 0.2 + 0.25*rng.Float64()
	onCircle := func(phi float64) r2.Point {
		return r2.Point{X: radius * math.Cos(phi), Y: radius * math.Sin(phi)}
	}
	ra := truth.InverseTransformPoint(onCircle(toRobot + spread))
	rb := truth.InverseTransformPoint(onCircle(toRobot - spread))
	if !visible(ra, sensor) || !visible(rb, sensor) {
		return localization.RegisteredLine{}, false
	}

	from, to := perturbSegment(ra, rb, sensor, rng)
	return localization.RegisteredLine{
		Reading:        geom.LineSegment{From: from, To: to},
		Cov:            lineCov(sensor),
		OnCenterCircle: true,
	}, true
}

// perturbSegment rotates the segment around its midpoint by direction
// noise and shifts it along its normal by offset noise.
func perturbSegment(from, to r2.Point, sensor SensorProfile, rng *rand.Rand) (r2.Point, r2.Point) {
	dTheta := rng.NormFloat64() * sensor.LineDirectionNoise
	dOff := rng.NormFloat64() * sensor.LineOffsetNoise

	center := from.Add(to).Mul(0.5)
	sin, cos := math.Sincos(dTheta)
	rotate := func(p r2.Point) r2.Point {
		v := p.Sub(center)
		return center.Add(r2.Point{X: cos*v.X - sin*v.Y, Y: sin*v.X + cos*v.Y})
	}
	from, to = rotate(from), rotate(to)

	d := to.Sub(from)
	n := d.Norm()
	if n == 0 {
		return from, to
	}
	normal := r2.Point{X: -d.Y / n, Y: d.X / n}
	return from.Add(normal.Mul(dOff)), to.Add(normal.Mul(dOff))
}

// visible reports whether a robot-frame point is inside the sensor
// cone.
func visible(rel r2.Point, sensor SensorProfile) bool {
	if rel.Norm() > sensor.VisibilityRadius {
		return false
	}
	return math.Abs(math.Atan2(rel.Y, rel.X)) <= sensor.FieldOfView/2
}

func lineCov(sensor SensorProfile) *mat.SymDense {
	return diagCov2(
		varianceFloor(sensor.LineOffsetNoise*sensor.LineOffsetNoise, minReadingVariance),
		varianceFloor(sensor.LineDirectionNoise*sensor.LineDirectionNoise, minAngularVariance),
	)
}

func diagCov2(varA, varB float64) *mat.SymDense {
	c := mat.NewSymDense(2, nil)
	c.SetSym(0, 0, varA)
	c.SetSym(1, 1, varB)
	return c
}

func varianceFloor(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}

func summarize(records []FrameRecord) RunSummary {
	s := RunSummary{Frames: len(records), ConvergenceFrame: -1}
	if len(records) == 0 {
		return s
	}
	var sumT, sumR float64
	for _, r := range records {
		sumT += r.TranslationError
		sumR += r.RotationError
		if r.TranslationError > s.MaxTranslationError {
			s.MaxTranslationError = r.TranslationError
		}
		if s.ConvergenceFrame < 0 && r.TranslationError <= convergedTranslation && r.RotationError <= convergedRotation {
			s.ConvergenceFrame = r.Frame
		}
		switch localization.PoseQuality(r.Quality) {
		case localization.PoseQualitySuperb:
			s.SuperbFrames++
		case localization.PoseQualityOkay:
			s.OkayFrames++
		default:
			s.PoorFrames++
		}
		if r.MirrorError {
			s.MirroredFrames++
		}
	}
	s.MeanTranslationError = sumT / float64(len(records))
	s.MeanRotationError = sumR / float64(len(records))
	s.FinalTranslationError = records[len(records)-1].TranslationError
	return s
}
