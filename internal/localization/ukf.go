package localization

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/openfield-robotics/fieldpose/internal/geom"
)

// ProcessNoise is the per-frame motion uncertainty added after a
// prediction, given as standard deviations.
type ProcessNoise struct {
	XY  float64 // mm
	Rot float64 // rad
}

// Numerical guards for the covariance algebra. Degenerate readings are
// skipped rather than surfaced as errors; degenerate covariances are
// repaired in place.
const (
	minCovarianceEigenvalue = 1e-6
	choleskyJitter          = 1e-9
	maxCholeskyAttempts     = 6
)

// PoseFilter is an unscented Kalman filter over the planar pose
// (x, y, rot). It uses the simplified sigma scheme with seven points:
// the mean and mean ± L·e_i for the lower Cholesky factor L of the
// covariance. Headings stay normalized to (-pi, pi] throughout.
type PoseFilter struct {
	mean  geom.Pose
	cov   *mat.SymDense // 3x3; component order x, y, rot
	sigma [7]geom.Pose  // scratch, regenerated before each transform
}

// NewPoseFilter returns a filter at pose with an independent diagonal
// covariance built from the given standard deviations.
func NewPoseFilter(pose geom.Pose, devXY, devRot float64) *PoseFilter {
	f := &PoseFilter{
		mean: geom.NewPose(pose.X, pose.Y, pose.Rot),
		cov:  mat.NewSymDense(3, nil),
	}
	f.cov.SetSym(0, 0, devXY*devXY)
	f.cov.SetSym(1, 1, devXY*devXY)
	f.cov.SetSym(2, 2, devRot*devRot)
	return f
}

// Mean returns the current pose estimate.
func (f *PoseFilter) Mean() geom.Pose { return f.mean }

// Covariance returns a copy of the 3x3 pose covariance.
func (f *PoseFilter) Covariance() *mat.SymDense {
	out := mat.NewSymDense(3, nil)
	out.CopySym(f.cov)
	return out
}

// SetState replaces the filter state. Used when a hypothesis is
// respawned or mirrored.
func (f *PoseFilter) SetState(pose geom.Pose, cov *mat.SymDense) {
	f.mean = geom.NewPose(pose.X, pose.Y, pose.Rot)
	f.cov.CopySym(cov)
	f.repairCovariance()
}

// Predict advances the filter by one frame of robot-relative motion
// and adds process noise. Each sigma point applies the delta in its
// own heading before the points are recombined. Non-finite deltas are
// ignored, keeping the prior state.
func (f *PoseFilter) Predict(delta geom.Pose, noise ProcessNoise) {
	if !delta.IsFinite() {
		return
	}
	f.computeSigmaPoints()
	for i := range f.sigma {
		f.sigma[i] = f.sigma[i].Compose(delta)
	}
	f.mean = meanOfSigmaPoints(&f.sigma)
	covOfSigmaPoints(&f.sigma, f.mean, f.cov)
	f.cov.SetSym(0, 0, f.cov.At(0, 0)+noise.XY*noise.XY)
	f.cov.SetSym(1, 1, f.cov.At(1, 1)+noise.XY*noise.XY)
	f.cov.SetSym(2, 2, f.cov.At(2, 2)+noise.Rot*noise.Rot)
	f.repairCovariance()
}

// Measurement is one registered reading for the generic unscented
// update. Observe maps a pose onto the expected reading; Angular marks
// components that wrap on the circle. Dimensions 1 through 3 are
// supported.
type Measurement struct {
	Value   []float64
	Cov     *mat.SymDense
	Angular []bool
	Observe func(geom.Pose) []float64
}

// Update fuses one measurement. It returns the squared Mahalanobis
// distance of the innovation under the innovation covariance, and
// whether the reading was applied. Readings with a missing or
// non-positive-variance covariance, or non-finite values, are skipped
// with the prior state retained.
func (f *PoseFilter) Update(m Measurement) (float64, bool) {
	dim := len(m.Value)
	if dim < 1 || dim > 3 || m.Observe == nil || m.Cov == nil {
		return 0, false
	}
	if r, c := m.Cov.Dims(); r != dim || c != dim {
		return 0, false
	}
	for i := 0; i < dim; i++ {
		if !(m.Cov.At(i, i) > 0) || math.IsInf(m.Cov.At(i, i), 0) {
			return 0, false
		}
	}
	for _, v := range m.Value {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
	}

	f.computeSigmaPoints()

	var z [7][]float64
	for i := range f.sigma {
		z[i] = m.Observe(f.sigma[i])
		if len(z[i]) != dim {
			return 0, false
		}
	}

	angular := func(k int) bool { return k < len(m.Angular) && m.Angular[k] }

	// Predicted reading mean. Angular components average against the
	// first sigma point's reading so all terms share a branch.
	var zMean [3]float64
	for k := 0; k < dim; k++ {
		if angular(k) {
			ref := z[0][k]
			var sum float64
			for i := 0; i < 7; i++ {
				sum += geom.AngleDiff(z[i][k], ref)
			}
			zMean[k] = geom.NormalizeAngle(ref + sum/7)
		} else {
			var sum float64
			for i := 0; i < 7; i++ {
				sum += z[i][k]
			}
			zMean[k] = sum / 7
		}
	}

	// Innovation covariance and state/reading cross covariance from the
	// same sigma set.
	var szzA, sxzA [3][3]float64
	for i := 0; i < 7; i++ {
		dx := [3]float64{
			f.sigma[i].X - f.mean.X,
			f.sigma[i].Y - f.mean.Y,
			geom.AngleDiff(f.sigma[i].Rot, f.mean.Rot),
		}
		var rz [3]float64
		for k := 0; k < dim; k++ {
			if angular(k) {
				rz[k] = geom.AngleDiff(z[i][k], zMean[k])
			} else {
				rz[k] = z[i][k] - zMean[k]
			}
		}
		for k := 0; k < dim; k++ {
			for l := 0; l < dim; l++ {
				szzA[k][l] += 0.5 * rz[k] * rz[l]
			}
			for r := 0; r < 3; r++ {
				sxzA[r][k] += 0.5 * dx[r] * rz[k]
			}
		}
	}

	szz := mat.NewSymDense(dim, nil)
	for k := 0; k < dim; k++ {
		for l := k; l < dim; l++ {
			szz.SetSym(k, l, szzA[k][l]+m.Cov.At(k, l))
		}
	}
	sxz := mat.NewDense(3, dim, nil)
	for r := 0; r < 3; r++ {
		for k := 0; k < dim; k++ {
			sxz.Set(r, k, sxzA[r][k])
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(szz) {
		// Regularize once; skip the reading if still degenerate.
		for k := 0; k < dim; k++ {
			szz.SetSym(k, k, szz.At(k, k)+minCovarianceEigenvalue)
		}
		if !chol.Factorize(szz) {
			return 0, false
		}
	}

	nu := mat.NewVecDense(dim, nil)
	for k := 0; k < dim; k++ {
		if angular(k) {
			nu.SetVec(k, geom.AngleDiff(m.Value[k], zMean[k]))
		} else {
			nu.SetVec(k, m.Value[k]-zMean[k])
		}
	}

	var solved mat.VecDense
	if err := chol.SolveVecTo(&solved, nu); err != nil {
		return 0, false
	}
	d2 := mat.Dot(nu, &solved)
	if math.IsNaN(d2) || d2 < 0 {
		return 0, false
	}

	// Kalman gain via the same factorization: solve Szz·Kᵀ = Sxzᵀ.
	var kT mat.Dense
	if err := chol.SolveTo(&kT, sxz.T()); err != nil {
		return 0, false
	}

	var dxv [3]float64
	for r := 0; r < 3; r++ {
		var s float64
		for k := 0; k < dim; k++ {
			s += kT.At(k, r) * nu.AtVec(k)
		}
		dxv[r] = s
	}
	newMean := geom.Pose{
		X:   f.mean.X + dxv[0],
		Y:   f.mean.Y + dxv[1],
		Rot: geom.NormalizeAngle(f.mean.Rot + dxv[2]),
	}
	if !newMean.IsFinite() {
		return 0, false
	}

	// P' = P - K·Szz·Kᵀ, with K·Szz·Kᵀ = Sxz·(Szz⁻¹·Sxzᵀ).
	var reduction [3][3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var s float64
			for k := 0; k < dim; k++ {
				s += sxz.At(r, k) * kT.At(k, c)
			}
			reduction[r][c] = s
		}
	}

	f.mean = newMean
	for r := 0; r < 3; r++ {
		for c := r; c < 3; c++ {
			f.cov.SetSym(r, c, f.cov.At(r, c)-0.5*(reduction[r][c]+reduction[c][r]))
		}
	}
	f.repairCovariance()
	return d2, true
}

// computeSigmaPoints fills the sigma scratch from the current state,
// factorizing the covariance and adding diagonal jitter if it has
// drifted off the positive definite cone.
func (f *PoseFilter) computeSigmaPoints() {
	chol := f.factorizeCovariance()
	var l mat.TriDense
	chol.LTo(&l)

	f.sigma[0] = f.mean
	for i := 0; i < 3; i++ {
		cx := l.At(0, i)
		cy := l.At(1, i)
		cr := l.At(2, i)
		f.sigma[1+i] = geom.Pose{
			X:   f.mean.X + cx,
			Y:   f.mean.Y + cy,
			Rot: geom.NormalizeAngle(f.mean.Rot + cr),
		}
		f.sigma[4+i] = geom.Pose{
			X:   f.mean.X - cx,
			Y:   f.mean.Y - cy,
			Rot: geom.NormalizeAngle(f.mean.Rot - cr),
		}
	}
}

// factorizeCovariance returns a Cholesky factorization of the
// covariance, jittering the diagonal as needed. As a last resort the
// correlations are dropped and the variances floored, which always
// factorizes.
func (f *PoseFilter) factorizeCovariance() *mat.Cholesky {
	var chol mat.Cholesky
	if chol.Factorize(f.cov) {
		return &chol
	}
	jitter := choleskyJitter
	for attempt := 0; attempt < maxCholeskyAttempts; attempt++ {
		for i := 0; i < 3; i++ {
			f.cov.SetSym(i, i, f.cov.At(i, i)+jitter)
		}
		if chol.Factorize(f.cov) {
			return &chol
		}
		jitter *= 10
	}
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			f.cov.SetSym(i, j, 0)
		}
		v := f.cov.At(i, i)
		if !(v > minCovarianceEigenvalue) {
			v = minCovarianceEigenvalue
		}
		f.cov.SetSym(i, i, v)
	}
	chol.Factorize(f.cov)
	return &chol
}

// repairCovariance clamps the covariance back onto the positive
// definite cone after an update has dragged an eigenvalue to zero or
// below.
func (f *PoseFilter) repairCovariance() {
	var es mat.EigenSym
	if !es.Factorize(f.cov, true) {
		return
	}
	vals := es.Values(nil)
	needsFloor := false
	for _, v := range vals {
		if v < minCovarianceEigenvalue {
			needsFloor = true
			break
		}
	}
	if !needsFloor {
		return
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	for i, v := range vals {
		if v < minCovarianceEigenvalue {
			vals[i] = minCovarianceEigenvalue
		}
	}
	for r := 0; r < 3; r++ {
		for c := r; c < 3; c++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += vecs.At(r, k) * vals[k] * vecs.At(c, k)
			}
			f.cov.SetSym(r, c, s)
		}
	}
}

// meanOfSigmaPoints averages the transformed sigma set. Headings are
// averaged as offsets from the first point so the mean stays on the
// correct branch near ±pi.
func meanOfSigmaPoints(sigma *[7]geom.Pose) geom.Pose {
	ref := sigma[0].Rot
	var sx, sy, sr float64
	for i := 0; i < 7; i++ {
		sx += sigma[i].X
		sy += sigma[i].Y
		sr += geom.AngleDiff(sigma[i].Rot, ref)
	}
	return geom.Pose{X: sx / 7, Y: sy / 7, Rot: geom.NormalizeAngle(ref + sr/7)}
}

// covOfSigmaPoints rebuilds the covariance as half the sum of outer
// products of the sigma deviations from the mean.
func covOfSigmaPoints(sigma *[7]geom.Pose, mean geom.Pose, dst *mat.SymDense) {
	var xx, xy, xr, yy, yr, rr float64
	for i := 0; i < 7; i++ {
		dx := sigma[i].X - mean.X
		dy := sigma[i].Y - mean.Y
		dr := geom.AngleDiff(sigma[i].Rot, mean.Rot)
		xx += dx * dx
		xy += dx * dy
		xr += dx * dr
		yy += dy * dy
		yr += dy * dr
		rr += dr * dr
	}
	dst.SetSym(0, 0, 0.5*xx)
	dst.SetSym(0, 1, 0.5*xy)
	dst.SetSym(0, 2, 0.5*xr)
	dst.SetSym(1, 1, 0.5*yy)
	dst.SetSym(1, 2, 0.5*yr)
	dst.SetSym(2, 2, 0.5*rr)
}
