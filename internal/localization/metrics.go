package localization

// PoolMetrics aggregates hypothesis-pool lifecycle counters for
// telemetry and offline evaluation. Values are cumulative since the
// pool was created or last Reset.
type PoolMetrics struct {
	FramesProcessed       int `json:"frames_processed"`
	ObservationFrames     int `json:"observation_frames"`
	StarvedFrames         int `json:"starved_frames"`
	LandmarksFused        int `json:"landmarks_fused"`
	LinesFused            int `json:"lines_fused"`
	CircleLinesFused      int `json:"circle_lines_fused"`
	PosesFused            int `json:"poses_fused"`
	ObservationsSkipped   int `json:"observations_skipped"`
	HypothesesSpawned     int `json:"hypotheses_spawned"`
	HypothesesReplaced    int `json:"hypotheses_replaced"`
	DuplicatesPruned      int `json:"duplicates_pruned"`
	MirroredSpawns        int `json:"mirrored_spawns"`
	SideInfoInvalidations int `json:"side_info_invalidations"`
	Resets                int `json:"resets"`
}
