package localization

import (
	"sync"

	"github.com/openfield-robotics/fieldpose/internal/geom"
)

// MotionReading is the odometry consumed by one frame step: the
// robot-relative displacement accumulated since the previous take and
// the most recent walk quality in [0, 1].
type MotionReading struct {
	Odometry geom.Pose
	Quality  float64
}

// MotionSlot is the single-slot handoff between the motion thread and
// the frame cycle. Publishers compose their deltas into a running
// odometry; TakeLatest drains everything accumulated since the last
// take, so skipped frames lose no motion and slow consumers always see
// the latest quality. The zero value is ready to use.
type MotionSlot struct {
	mu         sync.Mutex
	cumulative geom.Pose // odometry integrated since construction
	quality    float64
	seq        uint64

	lastTaken geom.Pose
	lastSeq   uint64
}

// Publish folds one robot-relative odometry delta and the current walk
// quality into the slot. Safe for concurrent use with TakeLatest.
func (s *MotionSlot) Publish(delta geom.Pose, quality float64) {
	if !delta.IsFinite() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumulative = s.cumulative.Compose(delta)
	s.quality = clamp01(quality)
	s.seq++
}

// TakeLatest returns the odometry accumulated since the previous call.
// ok is false when nothing was published since then; the reading then
// carries zero motion and the last known quality.
func (s *MotionSlot) TakeLatest() (MotionReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == s.lastSeq {
		return MotionReading{Quality: s.quality}, false
	}
	delta := s.lastTaken.Inverse().Compose(s.cumulative)
	s.lastTaken = s.cumulative
	s.lastSeq = s.seq
	return MotionReading{Odometry: delta, Quality: s.quality}, true
}
