package localization

import (
	"math"
	"sync"
	"testing"

	"github.com/openfield-robotics/fieldpose/internal/geom"
	"github.com/openfield-robotics/fieldpose/internal/testutil"
)

func TestMotionSlot_TakeLatestEmpty(t *testing.T) {
	var slot MotionSlot

	r, ok := slot.TakeLatest()
	if ok {
		t.Error("TakeLatest() reported fresh motion on an empty slot")
	}
	if r.Odometry != (geom.Pose{}) {
		t.Errorf("Odometry = %v, want zero", r.Odometry)
	}
}

func TestMotionSlot_SingleDelta(t *testing.T) {
	var slot MotionSlot
	slot.Publish(geom.NewPose(100, 20, 0.1), 0.9)

	r, ok := slot.TakeLatest()
	if !ok {
		t.Fatal("TakeLatest() reported no motion after publish")
	}
	testutil.AssertInDelta(t, "x", r.Odometry.X, 100, 1e-9)
	testutil.AssertInDelta(t, "y", r.Odometry.Y, 20, 1e-9)
	testutil.AssertAngleInDelta(t, "rot", r.Odometry.Rot, 0.1, 1e-9)
	testutil.AssertInDelta(t, "quality", r.Quality, 0.9, 1e-9)

	// A second take without a publish drains nothing but keeps quality.
	r, ok = slot.TakeLatest()
	if ok {
		t.Error("TakeLatest() reported motion twice for one publish")
	}
	testutil.AssertInDelta(t, "stale quality", r.Quality, 0.9, 1e-9)
}

func TestMotionSlot_AccumulatesAcrossSkippedTakes(t *testing.T) {
	// Two straight steps and a quarter turn published between takes must
	// come out as their composition, not just the last delta.
	var slot MotionSlot
	slot.Publish(geom.NewPose(100, 0, 0), 1)
	slot.Publish(geom.NewPose(100, 0, math.Pi/2), 1)
	slot.Publish(geom.NewPose(50, 0, 0), 0.8)

	r, ok := slot.TakeLatest()
	if !ok {
		t.Fatal("TakeLatest() reported no motion")
	}
	want := geom.Pose{}.Compose(geom.NewPose(100, 0, 0)).
		Compose(geom.NewPose(100, 0, math.Pi/2)).
		Compose(geom.NewPose(50, 0, 0))
	testutil.AssertInDelta(t, "x", r.Odometry.X, want.X, 1e-9)
	testutil.AssertInDelta(t, "y", r.Odometry.Y, want.Y, 1e-9)
	testutil.AssertAngleInDelta(t, "rot", r.Odometry.Rot, want.Rot, 1e-9)
	testutil.AssertInDelta(t, "quality", r.Quality, 0.8, 1e-9)
}

func TestMotionSlot_DeltaIsRelativeToLastTake(t *testing.T) {
	var slot MotionSlot
	slot.Publish(geom.NewPose(100, 0, 0.5), 1)
	if _, ok := slot.TakeLatest(); !ok {
		t.Fatal("first take missed published motion")
	}

	slot.Publish(geom.NewPose(30, -10, -0.2), 1)
	r, ok := slot.TakeLatest()
	if !ok {
		t.Fatal("second take missed published motion")
	}
	// Only the second step may appear, expressed in the frame the first
	// take ended in.
	testutil.AssertInDelta(t, "x", r.Odometry.X, 30, 1e-9)
	testutil.AssertInDelta(t, "y", r.Odometry.Y, -10, 1e-9)
	testutil.AssertAngleInDelta(t, "rot", r.Odometry.Rot, -0.2, 1e-9)
}

func TestMotionSlot_IgnoresNonFiniteDelta(t *testing.T) {
	var slot MotionSlot
	slot.Publish(geom.NewPose(math.NaN(), 0, 0), 1)

	if _, ok := slot.TakeLatest(); ok {
		t.Error("non-finite delta was accepted")
	}
}

func TestMotionSlot_ClampsQuality(t *testing.T) {
	var slot MotionSlot
	slot.Publish(geom.NewPose(1, 0, 0), 3.5)
	r, _ := slot.TakeLatest()
	testutil.AssertInDelta(t, "quality high", r.Quality, 1, 1e-9)

	slot.Publish(geom.NewPose(1, 0, 0), -2)
	r, _ = slot.TakeLatest()
	testutil.AssertInDelta(t, "quality low", r.Quality, 0, 1e-9)
}

func TestMotionSlot_ConcurrentPublishAndTake(t *testing.T) {
	// Publishers on straight steps only, so composed motion is the sum
	// of the drained deltas regardless of interleaving.
	var slot MotionSlot
	const publishers = 4
	const perPublisher = 500

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				slot.Publish(geom.NewPose(1, 0, 0), 1)
			}
		}()
	}

	stop := make(chan struct{})
	drained := make(chan float64, 1)
	go func() {
		var sum float64
		for {
			select {
			case <-stop:
				drained <- sum
				return
			default:
				if r, ok := slot.TakeLatest(); ok {
					sum += r.Odometry.X
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	total := <-drained

	// Drain whatever the consumer goroutine did not get to.
	if r, ok := slot.TakeLatest(); ok {
		total += r.Odometry.X
	}
	testutil.AssertInDelta(t, "total forward motion", total, publishers*perPublisher, 1e-6)
}
