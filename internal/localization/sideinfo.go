package localization

// SideInfo bounds the robot's reachable field half after a known
// own-half entry, such as walking in over the touchline or returning
// from a penalty. While the bound holds, hypotheses beyond it are
// impossible and can be invalidated outright, which resolves the
// field's mirror ambiguity without any observation.
type SideInfo struct {
	active           bool
	entryX           float64 // field x at the entry event, own half
	walkedSinceEntry float64 // mm of odometry translation since then
	slack            float64 // mm of tolerance on the bound
}

// NewSideInfo returns side information with the given slack. It starts
// inactive; call NoteEntry when the robot's half becomes known.
func NewSideInfo(slack float64) *SideInfo {
	if slack < 0 {
		slack = 0
	}
	return &SideInfo{slack: slack}
}

// NoteEntry records a known own-half entry at field x. Entry positions
// in the opponent half are ignored.
func (s *SideInfo) NoteEntry(entryX float64) {
	if entryX > 0 {
		return
	}
	s.active = true
	s.entryX = entryX
	s.walkedSinceEntry = 0
}

// Clear drops the bound, for when the robot's half is asserted by
// other means.
func (s *SideInfo) Clear() {
	s.active = false
}

// Advance accumulates one frame's walked distance.
func (s *SideInfo) Advance(translation float64) {
	if !s.active || translation < 0 {
		return
	}
	s.walkedSinceEntry += translation
}

// MaxReachableX returns the largest field x the robot can have reached
// since the entry event, and whether that bound is still informative.
// Once the bound covers the whole field the side information expires.
func (s *SideInfo) MaxReachableX(groundLineX float64) (float64, bool) {
	if !s.active {
		return 0, false
	}
	bound := s.entryX + s.walkedSinceEntry + s.slack
	if bound >= groundLineX {
		s.active = false
		return 0, false
	}
	return bound, true
}
