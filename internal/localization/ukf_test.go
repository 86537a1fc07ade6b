package localization

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/openfield-robotics/fieldpose/internal/geom"
	"github.com/openfield-robotics/fieldpose/internal/testutil"
)

// directPoseMeasurement observes the full state, which makes the
// unscented transform exact and the expected algebra checkable.
func directPoseMeasurement(x, y, rot, devXY, devRot float64) Measurement {
	cov := mat.NewSymDense(3, nil)
	cov.SetSym(0, 0, devXY*devXY)
	cov.SetSym(1, 1, devXY*devXY)
	cov.SetSym(2, 2, devRot*devRot)
	return Measurement{
		Value:   []float64{x, y, rot},
		Cov:     cov,
		Angular: []bool{false, false, true},
		Observe: func(p geom.Pose) []float64 {
			return []float64{p.X, p.Y, p.Rot}
		},
	}
}

func TestNewPoseFilter(t *testing.T) {
	f := NewPoseFilter(geom.NewPose(100, -200, 0.5), 300, 0.2)

	if f.Mean() != geom.NewPose(100, -200, 0.5) {
		t.Errorf("Mean() = %v, want (100, -200, 0.5)", f.Mean())
	}
	cov := f.Covariance()
	testutil.AssertInDelta(t, "var x", cov.At(0, 0), 90000, 1e-9)
	testutil.AssertInDelta(t, "var y", cov.At(1, 1), 90000, 1e-9)
	testutil.AssertInDelta(t, "var rot", cov.At(2, 2), 0.04, 1e-12)
	if cov.At(0, 1) != 0 || cov.At(0, 2) != 0 || cov.At(1, 2) != 0 {
		t.Errorf("covariance not diagonal: %v", mat.Formatted(cov))
	}
}

func TestPredict_AppliesDeltaInRobotFrame(t *testing.T) {
	// Facing +y, a forward step moves the pose along +y.
	f := NewPoseFilter(geom.NewPose(0, 0, math.Pi/2), 10, 0.01)
	f.Predict(geom.NewPose(100, 0, 0), ProcessNoise{XY: 5, Rot: 0.01})

	m := f.Mean()
	testutil.AssertInDelta(t, "x", m.X, 0, 1.0)
	testutil.AssertInDelta(t, "y", m.Y, 100, 1.0)
	testutil.AssertAngleInDelta(t, "rot", m.Rot, math.Pi/2, 1e-6)
}

func TestPredict_GrowsUncertainty(t *testing.T) {
	f := NewPoseFilter(geom.NewPose(0, 0, 0), 100, 0.1)
	before := f.Covariance()
	f.Predict(geom.NewPose(50, 0, 0.1), ProcessNoise{XY: 20, Rot: 0.05})
	after := f.Covariance()

	for i := 0; i < 3; i++ {
		if after.At(i, i) <= before.At(i, i) {
			t.Errorf("var[%d] = %v after predict, want > %v", i, after.At(i, i), before.At(i, i))
		}
	}
}

func TestPredict_HeadingUncertaintySpreadsPosition(t *testing.T) {
	// A long forward step under heading uncertainty must widen the
	// lateral variance far beyond the process noise alone.
	f := NewPoseFilter(geom.NewPose(0, 0, 0), 1, 0.3)
	f.Predict(geom.NewPose(1000, 0, 0), ProcessNoise{XY: 1, Rot: 0.01})

	cov := f.Covariance()
	if cov.At(1, 1) < 1000 {
		t.Errorf("lateral variance = %v, want >= 1000 from heading spread", cov.At(1, 1))
	}
}

func TestPredict_IgnoresNonFiniteDelta(t *testing.T) {
	f := NewPoseFilter(geom.NewPose(10, 20, 0.3), 100, 0.1)
	want := f.Mean()
	f.Predict(geom.NewPose(math.NaN(), 0, 0), ProcessNoise{XY: 5, Rot: 0.01})

	if f.Mean() != want {
		t.Errorf("Mean() = %v after NaN delta, want unchanged %v", f.Mean(), want)
	}
}

func TestPredict_ZeroDeltaDriftsOnlyInCovariance(t *testing.T) {
	start := geom.NewPose(-1000, 500, 0.3)
	f := NewPoseFilter(start, 200, 0.1)
	noise := ProcessNoise{XY: 10, Rot: 0.01}

	prev := f.Covariance()
	for i := 0; i < 150; i++ {
		f.Predict(geom.Pose{}, noise)
		cur := f.Covariance()
		for j := 0; j < 3; j++ {
			if cur.At(j, j) < prev.At(j, j)-1e-9 {
				t.Fatalf("cycle %d: var[%d] shrank from %v to %v without observations",
					i, j, prev.At(j, j), cur.At(j, j))
			}
		}
		prev = cur
	}

	got := f.Mean()
	testutil.AssertInDelta(t, "x", got.X, start.X, 1e-6)
	testutil.AssertInDelta(t, "y", got.Y, start.Y, 1e-6)
	testutil.AssertAngleInDelta(t, "rot", got.Rot, start.Rot, 1e-6)
}

func TestUpdate_PullsMeanTowardReading(t *testing.T) {
	f := NewPoseFilter(geom.NewPose(0, 0, 0), 1000, 0.5)

	d2, ok := f.Update(directPoseMeasurement(500, -300, 0.4, 100, 0.05))
	if !ok {
		t.Fatal("update not applied")
	}
	if d2 <= 0 || math.IsNaN(d2) {
		t.Fatalf("d2 = %v, want positive", d2)
	}

	// With prior deviation 1000 against reading deviation 100 the gain
	// is ~0.99, so one update lands close to the reading.
	m := f.Mean()
	testutil.AssertInDelta(t, "x", m.X, 500, 20)
	testutil.AssertInDelta(t, "y", m.Y, -300, 15)
	testutil.AssertAngleInDelta(t, "rot", m.Rot, 0.4, 0.02)
}

func TestUpdate_ReducesUncertainty(t *testing.T) {
	f := NewPoseFilter(geom.NewPose(0, 0, 0), 1000, 0.5)
	before := f.Covariance()

	if _, ok := f.Update(directPoseMeasurement(100, 100, 0.1, 100, 0.05)); !ok {
		t.Fatal("update not applied")
	}
	after := f.Covariance()
	for i := 0; i < 3; i++ {
		if after.At(i, i) >= before.At(i, i) {
			t.Errorf("var[%d] = %v after update, want < %v", i, after.At(i, i), before.At(i, i))
		}
	}
}

func TestUpdate_ScalarNonlinearObservation(t *testing.T) {
	// Range-to-origin only constrains the radial direction.
	f := NewPoseFilter(geom.NewPose(1000, 0, 0), 300, 0.1)
	cov := mat.NewSymDense(1, nil)
	cov.SetSym(0, 0, 50*50)

	_, ok := f.Update(Measurement{
		Value: []float64{800},
		Cov:   cov,
		Observe: func(p geom.Pose) []float64 {
			return []float64{math.Hypot(p.X, p.Y)}
		},
	})
	if !ok {
		t.Fatal("update not applied")
	}

	m := f.Mean()
	if m.X <= 700 || m.X >= 900 {
		t.Errorf("x = %v, want pulled into (700, 900)", m.X)
	}
	testutil.AssertInDelta(t, "y untouched", m.Y, 0, 1e-6)
}

func TestUpdate_AngularInnovationWrapsAcrossPi(t *testing.T) {
	// Reading and state sit on opposite branches of the cut at pi; the
	// correction must cross the cut, not swing through zero.
	f := NewPoseFilter(geom.NewPose(0, 0, math.Pi-0.05), 50, 0.2)
	cov := mat.NewSymDense(1, nil)
	cov.SetSym(0, 0, 0.01*0.01)

	_, ok := f.Update(Measurement{
		Value:   []float64{-math.Pi + 0.05},
		Cov:     cov,
		Angular: []bool{true},
		Observe: func(p geom.Pose) []float64 {
			return []float64{p.Rot}
		},
	})
	if !ok {
		t.Fatal("update not applied")
	}
	testutil.AssertAngleInDelta(t, "rot", f.Mean().Rot, -math.Pi+0.05, 0.02)
}

func TestUpdate_SkipsDegenerateReadings(t *testing.T) {
	goodCov := func(dim int) *mat.SymDense {
		c := mat.NewSymDense(dim, nil)
		for i := 0; i < dim; i++ {
			c.SetSym(i, i, 100)
		}
		return c
	}
	observe2 := func(p geom.Pose) []float64 { return []float64{p.X, p.Y} }

	zeroVar := goodCov(2)
	zeroVar.SetSym(1, 1, 0)
	negVar := goodCov(2)
	negVar.SetSym(0, 0, -4)
	infVar := goodCov(2)
	infVar.SetSym(0, 0, math.Inf(1))

	tests := []struct {
		name string
		m    Measurement
	}{
		{"nil covariance", Measurement{Value: []float64{1, 2}, Observe: observe2}},
		{"nil observe", Measurement{Value: []float64{1, 2}, Cov: goodCov(2)}},
		{"empty value", Measurement{Value: nil, Cov: goodCov(2), Observe: observe2}},
		{"oversized value", Measurement{Value: []float64{1, 2, 3, 4}, Cov: goodCov(4), Observe: observe2}},
		{"covariance dim mismatch", Measurement{Value: []float64{1, 2}, Cov: goodCov(3), Observe: observe2}},
		{"zero variance", Measurement{Value: []float64{1, 2}, Cov: zeroVar, Observe: observe2}},
		{"negative variance", Measurement{Value: []float64{1, 2}, Cov: negVar, Observe: observe2}},
		{"infinite variance", Measurement{Value: []float64{1, 2}, Cov: infVar, Observe: observe2}},
		{"nan value", Measurement{Value: []float64{math.NaN(), 2}, Cov: goodCov(2), Observe: observe2}},
		{"inf value", Measurement{Value: []float64{1, math.Inf(-1)}, Cov: goodCov(2), Observe: observe2}},
		{"observe dim mismatch", Measurement{Value: []float64{1, 2}, Cov: goodCov(2),
			Observe: func(p geom.Pose) []float64 { return []float64{p.X} }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewPoseFilter(geom.NewPose(10, 20, 0.3), 100, 0.1)
			wantMean := f.Mean()
			wantCov := f.Covariance()

			d2, ok := f.Update(tt.m)
			if ok {
				t.Fatal("degenerate reading was applied")
			}
			if d2 != 0 {
				t.Errorf("d2 = %v, want 0 for skipped reading", d2)
			}
			if f.Mean() != wantMean {
				t.Errorf("mean changed to %v, want unchanged %v", f.Mean(), wantMean)
			}
			if !mat.EqualApprox(f.Covariance(), wantCov, 1e-12) {
				t.Error("covariance changed by skipped reading")
			}
		})
	}
}

func TestSetState_RepairsIndefiniteCovariance(t *testing.T) {
	f := NewPoseFilter(geom.NewPose(0, 0, 0), 100, 0.1)
	bad := mat.NewSymDense(3, nil)
	bad.SetSym(0, 0, 1)
	bad.SetSym(1, 1, 1)
	bad.SetSym(2, 2, -5)
	f.SetState(geom.NewPose(1, 2, 0.1), bad)

	var es mat.EigenSym
	if !es.Factorize(f.Covariance(), false) {
		t.Fatal("eigendecomposition failed")
	}
	for i, v := range es.Values(nil) {
		if v < minCovarianceEigenvalue/2 {
			t.Errorf("eigenvalue[%d] = %v, want >= %v", i, v, minCovarianceEigenvalue)
		}
	}

	// The repaired filter must accept further readings.
	if _, ok := f.Update(directPoseMeasurement(0, 0, 0, 100, 0.1)); !ok {
		t.Error("update rejected after repair")
	}
}

func TestFilter_StableOverManyCycles(t *testing.T) {
	f := NewPoseFilter(geom.NewPose(-2000, 1000, 0.5), 500, 0.3)
	for i := 0; i < 200; i++ {
		f.Predict(geom.NewPose(30, 5, 0.01), ProcessNoise{XY: 8, Rot: 0.02})
		if i%3 == 0 {
			if _, ok := f.Update(directPoseMeasurement(-2000+float64(i)*30, 1000, 0.5, 200, 0.1)); !ok {
				t.Fatalf("cycle %d: update not applied", i)
			}
		}
	}

	if !f.Mean().IsFinite() {
		t.Fatalf("mean diverged: %v", f.Mean())
	}
	cov := f.Covariance()
	for i := 0; i < 3; i++ {
		v := cov.At(i, i)
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			t.Errorf("var[%d] = %v, want finite positive", i, v)
		}
	}
}
