// Package localization owns the robot's self-localization estimate: a
// pool of unscented-Kalman pose hypotheses corrected by registered
// field observations.
//
// Responsibilities: the per-frame predict/correct cycle, hypothesis
// lifecycle (spawning, mirroring, deduplication, resampling), validity
// and weighting bookkeeping, side information about the reachable
// field half, and selection of the published estimate.
// Key types: HypothesisPool, PoseHypothesis, PoseFilter, FrameInput.
//
// The pool is deliberately single-threaded: Update runs once per
// perception frame and owns every hypothesis exclusively. The only
// concurrency-safe member is MotionSlot, the latest-value handoff fed
// by the motion thread. No SQL/database code is allowed in this
// package.
package localization
