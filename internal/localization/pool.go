package localization

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/openfield-robotics/fieldpose/internal/config"
	"github.com/openfield-robotics/fieldpose/internal/field"
	"github.com/openfield-robotics/fieldpose/internal/geom"
)

// PoseQuality grades the published estimate.
type PoseQuality string

const (
	// PoseQualitySuperb indicates a well-confirmed estimate.
	PoseQualitySuperb PoseQuality = "superb"
	// PoseQualityOkay indicates a usable estimate with moderate support.
	PoseQualityOkay PoseQuality = "okay"
	// PoseQualityPoor indicates a starved or contested estimate.
	PoseQualityPoor PoseQuality = "poor"
)

// FrameInput is everything the pool consumes for one frame step.
type FrameInput struct {
	// Odometry is the robot-relative displacement since the previous
	// frame, usually drained from a MotionSlot.
	Odometry geom.Pose
	// MotionQuality in [0, 1] describes the walk; low quality inflates
	// the process noise.
	MotionQuality float64
	// Observations holds the frame's registered percepts. An empty set
	// is the normal degraded mode, not an error.
	Observations ObservationSet
}

// Estimate is the published self-localization result for one frame.
type Estimate struct {
	Pose       geom.Pose
	Covariance *mat.SymDense
	Validity   float64
	Quality    PoseQuality

	HypothesisID              int
	HypothesisCount           int
	FramesWithoutObservations int
}

// PoolConfig holds the tunable parameters of the hypothesis pool.
type PoolConfig struct {
	// MaxHypotheses caps the number of live hypotheses.
	MaxHypotheses int
	// ValidityUpdateFrames is the moving-average window for validity.
	ValidityUpdateFrames int
	// GoodObservationThreshold is the frame compatibility score treated
	// as full agreement when updating validity.
	GoodObservationThreshold float64
	// BaseValidityWeighting floors the weighting of every live
	// hypothesis so none drops out of selection entirely.
	BaseValidityWeighting float64
	// LowWeightingStreakFrames is how long a hypothesis may sit on the
	// weighting floor before it is replaced.
	LowWeightingStreakFrames int
	// DedupRadius and DedupAngle define when two hypotheses describe
	// the same pose, in which case the worse one is pruned.
	DedupRadius float64
	DedupAngle  float64
	// MirroredTwinCount is how many of the strongest hypotheses get a
	// point-reflected twin kept alive while the field symmetry is
	// unresolved. Zero disables twin maintenance.
	MirroredTwinCount int
	// ResampleJitterXY and ResampleJitterRot spread respawned
	// hypotheses around their source.
	ResampleJitterXY  float64
	ResampleJitterRot float64

	// BaseProcessNoiseXY and BaseProcessNoiseRot are the per-frame
	// motion noise floors; the odometry factors scale noise with the
	// commanded motion.
	BaseProcessNoiseXY     float64
	BaseProcessNoiseRot    float64
	OdometryNoiseFactorXY  float64
	OdometryNoiseFactorRot float64
	// DefaultPoseDeviationXY and DefaultPoseDeviationRot initialize
	// fresh hypotheses.
	DefaultPoseDeviationXY  float64
	DefaultPoseDeviationRot float64

	// CombinedVarianceRotWeight converts heading variance into the mm²
	// scale when comparing hypothesis spreads.
	CombinedVarianceRotWeight float64
	// QualitySuperbValidity and QualityOkayValidity grade the published
	// estimate; StarvationPoorFrames caps the grade at poor after that
	// many frames without observations.
	QualitySuperbValidity float64
	QualityOkayValidity   float64
	StarvationPoorFrames  int

	// OwnHalfSlack pads the side-information reachability bound.
	OwnHalfSlack float64
}

// DefaultPoolConfig returns the canonical defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfigFromTuning(config.EmptyTuningConfig())
}

// PoolConfigFromTuning creates a PoolConfig from a TuningConfig, using
// defaults for any unset fields.
func PoolConfigFromTuning(cfg *config.TuningConfig) PoolConfig {
	return PoolConfig{
		MaxHypotheses:             cfg.GetMaxHypotheses(),
		ValidityUpdateFrames:      cfg.GetValidityUpdateFrames(),
		GoodObservationThreshold:  cfg.GetGoodObservationThreshold(),
		BaseValidityWeighting:     cfg.GetBaseValidityWeighting(),
		LowWeightingStreakFrames:  cfg.GetLowWeightingStreakFrames(),
		DedupRadius:               cfg.GetDedupRadius(),
		DedupAngle:                cfg.GetDedupAngle(),
		MirroredTwinCount:         cfg.GetMirroredTwinCount(),
		ResampleJitterXY:          cfg.GetResampleJitterXY(),
		ResampleJitterRot:         cfg.GetResampleJitterRot(),
		BaseProcessNoiseXY:        cfg.GetBaseProcessNoiseXY(),
		BaseProcessNoiseRot:       cfg.GetBaseProcessNoiseRot(),
		OdometryNoiseFactorXY:     cfg.GetOdometryNoiseFactorXY(),
		OdometryNoiseFactorRot:    cfg.GetOdometryNoiseFactorRot(),
		DefaultPoseDeviationXY:    cfg.GetDefaultPoseDeviationXY(),
		DefaultPoseDeviationRot:   cfg.GetDefaultPoseDeviationRot(),
		CombinedVarianceRotWeight: cfg.GetCombinedVarianceRotWeight(),
		QualitySuperbValidity:     cfg.GetQualitySuperbValidity(),
		QualityOkayValidity:       cfg.GetQualityOkayValidity(),
		StarvationPoorFrames:      cfg.GetStarvationPoorFrames(),
		OwnHalfSlack:              cfg.GetOwnHalfSlack(),
	}
}

// HypothesisPool runs the per-frame localization cycle over a set of
// pose hypotheses: predict, correct, reweight, resample, publish.
// It is single-threaded by contract; see the package documentation.
type HypothesisPool struct {
	cfg   PoolConfig
	field *field.Model
	rng   *rand.Rand

	hypotheses []*PoseHypothesis
	nextID     int

	sideInfo                  *SideInfo
	framesWithoutObservations int
	frame                     int
	metrics                   PoolMetrics
}

// NewHypothesisPool creates a pool over the given field model, seeded
// at the conventional walk-in poses with the own-half bound armed. The
// seed makes respawn jitter reproducible: two pools with the same seed
// and the same inputs produce identical estimates.
func NewHypothesisPool(cfg PoolConfig, fm *field.Model, seed int64) *HypothesisPool {
	p := &HypothesisPool{
		cfg:      cfg,
		field:    fm,
		rng:      rand.New(rand.NewSource(seed)),
		sideInfo: NewSideInfo(cfg.OwnHalfSlack),
	}
	p.seed(nil)
	return p
}

// Reset discards every hypothesis and reseeds the pool. With no poses
// given, the conventional walk-in poses are used and the own-half
// bound restarts; explicit poses are trusted as given and clear the
// bound.
func (p *HypothesisPool) Reset(poses []geom.Pose) {
	p.hypotheses = p.hypotheses[:0]
	p.framesWithoutObservations = 0
	p.metrics.Resets++
	if len(poses) > 0 {
		p.sideInfo.Clear()
	}
	p.seed(poses)
	Opsf("pool reset: %d hypotheses", len(p.hypotheses))
}

// NoteOwnHalfEntry records a known own-half entry (walk-in or penalty
// return) so the reachability bound can resolve the field symmetry.
func (p *HypothesisPool) NoteOwnHalfEntry(entryX float64) {
	p.sideInfo.NoteEntry(entryX)
}

// UpdateConfig swaps the tuning parameters between frames. A reduced
// capacity takes effect on the next Update.
func (p *HypothesisPool) UpdateConfig(cfg PoolConfig) {
	p.cfg = cfg
	p.sideInfo.slack = cfg.OwnHalfSlack
}

// Metrics returns a copy of the cumulative pool counters.
func (p *HypothesisPool) Metrics() PoolMetrics { return p.metrics }

// HypothesisSnapshot is a read-only view of one hypothesis for
// telemetry and offline evaluation.
type HypothesisSnapshot struct {
	ID        int
	Pose      geom.Pose
	Validity  float64
	Weighting float64
}

// Snapshot returns the live hypotheses' public state.
func (p *HypothesisPool) Snapshot() []HypothesisSnapshot {
	out := make([]HypothesisSnapshot, 0, len(p.hypotheses))
	for _, h := range p.hypotheses {
		out = append(out, HypothesisSnapshot{
			ID:        h.ID,
			Pose:      h.Pose(),
			Validity:  h.Validity,
			Weighting: h.Weighting,
		})
	}
	return out
}

// Update runs one frame of the localization cycle and returns the
// published estimate.
func (p *HypothesisPool) Update(in FrameInput) Estimate {
	p.frame++
	p.metrics.FramesProcessed++

	p.predict(in)
	for _, h := range p.hypotheses {
		h.resetFrameScore()
	}

	if in.Observations.Empty() {
		// Predict-only frame: confidence decays toward zero.
		p.framesWithoutObservations++
		p.metrics.StarvedFrames++
		for _, h := range p.hypotheses {
			h.UpdateValidity(p.cfg.ValidityUpdateFrames, 0)
		}
	} else {
		p.framesWithoutObservations = 0
		p.metrics.ObservationFrames++
		p.correct(in.Observations)
	}

	p.reweight()
	p.applySideInformation()
	p.resample()
	return p.publish()
}

// Best returns the hypothesis that would be published this frame:
// highest weighting, with the combined variance and then the older id
// breaking ties. Returns nil only for an empty pool.
func (p *HypothesisPool) Best() *PoseHypothesis {
	var best *PoseHypothesis
	for _, h := range p.hypotheses {
		if best == nil || p.outranks(h, best) {
			best = h
		}
	}
	return best
}

func (p *HypothesisPool) seed(poses []geom.Pose) {
	if len(poses) == 0 {
		poses = p.field.WalkInPoses()
		if len(poses) > 0 {
			p.sideInfo.NoteEntry(poses[0].X)
		}
	}
	for _, pose := range poses {
		if len(p.hypotheses) >= p.cfg.MaxHypotheses {
			break
		}
		p.nextID++
		h := NewPoseHypothesis(p.field.ClampToCarpet(pose),
			p.cfg.DefaultPoseDeviationXY, p.cfg.DefaultPoseDeviationRot, p.nextID, 0.5)
		p.hypotheses = append(p.hypotheses, h)
		p.metrics.HypothesesSpawned++
		Diagf("spawned hypothesis %d at %v", h.ID, h.Pose())
	}
}

func (p *HypothesisPool) predict(in FrameInput) {
	delta := in.Odometry
	if !delta.IsFinite() {
		Opsf("frame %d: non-finite odometry dropped", p.frame)
		delta = geom.Pose{}
	}
	translation := math.Hypot(delta.X, delta.Y)
	p.sideInfo.Advance(translation)

	// Poor walk quality widens the motion noise, up to doubling it.
	scale := 2 - clamp01(in.MotionQuality)
	noise := ProcessNoise{
		XY:  scale * (p.cfg.BaseProcessNoiseXY + p.cfg.OdometryNoiseFactorXY*translation),
		Rot: scale * (p.cfg.BaseProcessNoiseRot + p.cfg.OdometryNoiseFactorRot*math.Abs(delta.Rot)),
	}
	for _, h := range p.hypotheses {
		h.Predict(delta, noise)
	}
}

// correct fuses the frame's observations into every hypothesis in a
// fixed order: landmarks, straight lines, center-circle chords,
// absolute poses. Fused counts are per hypothesis application.
func (p *HypothesisPool) correct(obs ObservationSet) {
	circleRadius := p.field.CenterCircleRadius()
	for _, h := range p.hypotheses {
		for _, lm := range obs.Landmarks {
			if _, ok := h.UpdateByLandmark(lm); ok {
				p.metrics.LandmarksFused++
			} else {
				p.metrics.ObservationsSkipped++
			}
		}
		for _, ln := range obs.Lines {
			if ln.OnCenterCircle {
				continue
			}
			if _, ok := h.UpdateByLine(ln); ok {
				p.metrics.LinesFused++
			} else {
				p.metrics.ObservationsSkipped++
			}
		}
		for _, ln := range obs.Lines {
			if !ln.OnCenterCircle {
				continue
			}
			if _, ok := h.UpdateByLineOnCenterCircle(ln, circleRadius); ok {
				p.metrics.CircleLinesFused++
			} else {
				p.metrics.ObservationsSkipped++
			}
		}
		for _, pm := range obs.Poses {
			if _, ok := h.UpdateByPose(pm); ok {
				p.metrics.PosesFused++
			} else {
				p.metrics.ObservationsSkipped++
			}
		}
	}
}

func (p *HypothesisPool) reweight() {
	for _, h := range p.hypotheses {
		if score, ok := h.frameScore(); ok {
			// Scores at or above the threshold count as full agreement.
			h.UpdateValidity(p.cfg.ValidityUpdateFrames, clamp01(score/p.cfg.GoodObservationThreshold))
		}
		h.ComputeWeightingBasedOnValidity(p.cfg.BaseValidityWeighting)
	}
}

// applySideInformation handles hypotheses beyond the reachable field x
// while the own-half bound is informative. A violating hypothesis whose
// point reflection satisfies the bound is mirrored back, since the
// reflection explains the same symmetric percepts; one that is
// impossible on both sides is invalidated and queued for replacement.
func (p *HypothesisPool) applySideInformation() {
	bound, ok := p.sideInfo.MaxReachableX(p.field.Dim.GroundLineX)
	if !ok {
		return
	}
	for _, h := range p.hypotheses {
		if h.Pose().X <= bound {
			continue
		}
		p.metrics.SideInfoInvalidations++
		if h.Pose().Mirrored().X <= bound {
			h.Mirror()
			h.Validity *= 0.5
			h.ComputeWeightingBasedOnValidity(p.cfg.BaseValidityWeighting)
			Diagf("hypothesis %d mirrored back across reachable x=%.0f", h.ID, bound)
			continue
		}
		h.Invalidate()
		h.lowWeightingStreak = p.cfg.LowWeightingStreakFrames
		Diagf("hypothesis %d beyond reachable x=%.0f, invalidated", h.ID, bound)
	}
}

// resample prunes duplicates, replaces hypotheses stuck on the
// weighting floor with clones drawn proportionally to weighting, and
// keeps mirrored twins of the strongest hypotheses while there is room.
func (p *HypothesisPool) resample() {
	best := p.Best()
	if best == nil {
		p.seed(nil)
		return
	}

	p.pruneDuplicates()

	for i, h := range p.hypotheses {
		onFloor := h.Weighting <= p.cfg.BaseValidityWeighting
		// The best hypothesis is only replaced once invalidated, so a
		// starved but converged pool keeps its state.
		if !onFloor || (h == best && h.Weighting > 0) {
			h.lowWeightingStreak = 0
			continue
		}
		h.lowWeightingStreak++
		if h.lowWeightingStreak >= p.cfg.LowWeightingStreakFrames {
			p.hypotheses[i] = p.respawned(p.rouletteSource(best))
			p.metrics.HypothesesReplaced++
			Diagf("hypothesis %d replaced by %d", h.ID, p.hypotheses[i].ID)
		}
	}

	p.maintainMirroredTwins()
	p.enforceCapacity()
}

// rouletteSource draws the clone source proportionally to weighting,
// so well supported hypotheses are duplicated more often. A pool with
// no weight left falls back to the best hypothesis.
func (p *HypothesisPool) rouletteSource(best *PoseHypothesis) *PoseHypothesis {
	var total float64
	for _, h := range p.hypotheses {
		total += h.Weighting
	}
	if total <= 0 {
		return best
	}
	r := p.rng.Float64() * total
	for _, h := range p.hypotheses {
		r -= h.Weighting
		if r <= 0 {
			return h
		}
	}
	return best
}

// respawned builds a replacement hypothesis: a jittered clone of src,
// or a fresh walk-in hypothesis when even src violates the own-half
// bound. Replacements never outrank their source immediately.
func (p *HypothesisPool) respawned(src *PoseHypothesis) *PoseHypothesis {
	if bound, ok := p.sideInfo.MaxReachableX(p.field.Dim.GroundLineX); ok && src.Pose().X > bound {
		// Even the source is impossible; restart from a walk-in pose.
		walkIns := p.field.WalkInPoses()
		pose := walkIns[p.rng.Intn(len(walkIns))]
		p.nextID++
		h := NewPoseHypothesis(pose, p.cfg.DefaultPoseDeviationXY, p.cfg.DefaultPoseDeviationRot, p.nextID, 0.5)
		p.metrics.HypothesesSpawned++
		return h
	}

	validity := 0.5 * src.Validity
	pose := src.Pose()
	jittered := p.field.ClampToCarpet(geom.NewPose(
		pose.X+p.rng.NormFloat64()*p.cfg.ResampleJitterXY,
		pose.Y+p.rng.NormFloat64()*p.cfg.ResampleJitterXY,
		pose.Rot+p.rng.NormFloat64()*p.cfg.ResampleJitterRot,
	))
	p.nextID++
	h := NewPoseHypothesis(jittered, p.cfg.DefaultPoseDeviationXY, p.cfg.DefaultPoseDeviationRot, p.nextID, validity)
	cov := src.Covariance()
	cov.SetSym(0, 0, cov.At(0, 0)+p.cfg.ResampleJitterXY*p.cfg.ResampleJitterXY)
	cov.SetSym(1, 1, cov.At(1, 1)+p.cfg.ResampleJitterXY*p.cfg.ResampleJitterXY)
	cov.SetSym(2, 2, cov.At(2, 2)+p.cfg.ResampleJitterRot*p.cfg.ResampleJitterRot)
	h.filter.SetState(jittered, cov)
	p.metrics.HypothesesSpawned++
	return h
}

// pruneDuplicates drops hypotheses that describe the same pose as a
// better one. Freed slots leave room for mirrored twins and respawns.
func (p *HypothesisPool) pruneDuplicates() {
	if len(p.hypotheses) < 2 {
		return
	}
	orig := p.hypotheses
	kept := make([]*PoseHypothesis, 0, len(orig))
	for i, h := range orig {
		dup := false
		for j, other := range orig {
			if i == j || !p.samePose(h.Pose(), other.Pose()) {
				continue
			}
			if p.outranks(other, h) {
				dup = true
				break
			}
		}
		if dup {
			p.metrics.DuplicatesPruned++
			Diagf("hypothesis %d pruned as duplicate", h.ID)
			continue
		}
		kept = append(kept, h)
	}
	p.hypotheses = kept
}

// maintainMirroredTwins keeps point-reflected twins of the strongest
// hypotheses alive while the field symmetry is unresolved, so a wrong
// disambiguation can still be recovered from.
func (p *HypothesisPool) maintainMirroredTwins() {
	if p.cfg.MirroredTwinCount <= 0 || len(p.hypotheses) >= p.cfg.MaxHypotheses {
		return
	}
	// The own-half bound already resolves the symmetry while it holds.
	if _, ok := p.sideInfo.MaxReachableX(p.field.Dim.GroundLineX); ok {
		return
	}
	ranked := make([]*PoseHypothesis, len(p.hypotheses))
	copy(ranked, p.hypotheses)
	sort.Slice(ranked, func(i, j int) bool { return p.outranks(ranked[i], ranked[j]) })
	if len(ranked) > p.cfg.MirroredTwinCount {
		ranked = ranked[:p.cfg.MirroredTwinCount]
	}
	for _, src := range ranked {
		if len(p.hypotheses) >= p.cfg.MaxHypotheses {
			return
		}
		mirrored := src.Pose().Mirrored()
		represented := false
		for _, h := range p.hypotheses {
			if p.samePose(h.Pose(), mirrored) {
				represented = true
				break
			}
		}
		if represented {
			continue
		}
		p.nextID++
		twin := NewPoseHypothesis(src.Pose(), p.cfg.DefaultPoseDeviationXY, p.cfg.DefaultPoseDeviationRot,
			p.nextID, 0.5*src.Validity)
		twin.filter.SetState(src.Pose(), src.Covariance())
		twin.Mirror()
		p.hypotheses = append(p.hypotheses, twin)
		p.metrics.MirroredSpawns++
		p.metrics.HypothesesSpawned++
		Diagf("spawned mirrored twin %d of hypothesis %d", twin.ID, src.ID)
	}
}

// enforceCapacity trims the weakest hypotheses when the pool exceeds
// its cap, e.g. after a config update.
func (p *HypothesisPool) enforceCapacity() {
	for len(p.hypotheses) > p.cfg.MaxHypotheses {
		worst := 0
		for i := 1; i < len(p.hypotheses); i++ {
			if p.outranks(p.hypotheses[worst], p.hypotheses[i]) {
				worst = i
			}
		}
		Diagf("hypothesis %d dropped over capacity", p.hypotheses[worst].ID)
		p.hypotheses = append(p.hypotheses[:worst], p.hypotheses[worst+1:]...)
	}
}

func (p *HypothesisPool) publish() Estimate {
	est := Estimate{
		Quality:                   PoseQualityPoor,
		HypothesisCount:           len(p.hypotheses),
		FramesWithoutObservations: p.framesWithoutObservations,
	}
	best := p.Best()
	if best == nil {
		return est
	}
	est.Pose = best.Pose()
	est.Covariance = best.Covariance()
	est.Validity = best.Validity
	est.HypothesisID = best.ID
	switch {
	case p.framesWithoutObservations >= p.cfg.StarvationPoorFrames:
		est.Quality = PoseQualityPoor
	case best.Validity >= p.cfg.QualitySuperbValidity:
		est.Quality = PoseQualitySuperb
	case best.Validity >= p.cfg.QualityOkayValidity:
		est.Quality = PoseQualityOkay
	}
	Tracef("frame %d: best=%d pose=%v validity=%.3f quality=%s pool=%d",
		p.frame, best.ID, est.Pose, est.Validity, est.Quality, len(p.hypotheses))
	return est
}

func (p *HypothesisPool) samePose(a, b geom.Pose) bool {
	return a.TranslationDistance(b) <= p.cfg.DedupRadius &&
		math.Abs(geom.AngleDiff(a.Rot, b.Rot)) <= p.cfg.DedupAngle
}

// outranks imposes the deterministic selection order: weighting, then
// combined variance, then age.
func (p *HypothesisPool) outranks(a, b *PoseHypothesis) bool {
	if a.Weighting != b.Weighting {
		return a.Weighting > b.Weighting
	}
	va := a.CombinedVariance(p.cfg.CombinedVarianceRotWeight)
	vb := b.CombinedVariance(p.cfg.CombinedVarianceRotWeight)
	if va != vb {
		return va < vb
	}
	return a.ID < b.ID
}
