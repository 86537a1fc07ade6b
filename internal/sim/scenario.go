// Package sim drives the localization pool through synthetic matches.
// A scenario describes the true trajectory and the sensor profile; the
// runner walks the truth, synthesizes noisy registered observations
// from the field model, and records the pool's estimates frame by
// frame. Runs with the same scenario seed are bit-identical, which
// makes regression comparisons meaningful.
package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/openfield-robotics/fieldpose/internal/geom"
)

// SensorProfile describes what the synthetic perception can see and
// how noisy it is. Zero noise values are legal; readings then carry a
// small variance floor so the filter math stays well conditioned.
type SensorProfile struct {
	// VisibilityRadius and FieldOfView gate which features produce
	// readings. FieldOfView is the full cone width centered on the
	// robot's heading.
	VisibilityRadius float64 `json:"visibility_radius_mm"`
	FieldOfView      float64 `json:"field_of_view_rad"`

	LandmarkNoise      float64 `json:"landmark_noise_mm"`
	LineOffsetNoise    float64 `json:"line_offset_noise_mm"`
	LineDirectionNoise float64 `json:"line_direction_noise_rad"`

	// PoseCadence emits an absolute pose fix every n frames; zero
	// disables pose fixes.
	PoseCadence  int     `json:"pose_cadence_frames,omitempty"`
	PoseNoiseXY  float64 `json:"pose_noise_xy_mm,omitempty"`
	PoseNoiseRot float64 `json:"pose_noise_rot_rad,omitempty"`

	// OdometryNoiseFactor scales multiplicative noise on each odometry
	// component; MotionQuality is reported to the pool unchanged.
	OdometryNoiseFactor float64 `json:"odometry_noise_factor"`
	MotionQuality       float64 `json:"motion_quality"`
}

// FrameRange is an inclusive range of frame indices.
type FrameRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Contains reports whether frame lies in the range.
func (r FrameRange) Contains(frame int) bool {
	return frame >= r.From && frame <= r.To
}

// KidnapEvent teleports the true pose at the given frame, simulating a
// pickup by the referee.
type KidnapEvent struct {
	Frame int       `json:"frame"`
	To    geom.Pose `json:"to"`
}

// Scenario is one synthetic match script.
type Scenario struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Frames      int    `json:"frames"`
	Seed        int64  `json:"seed"`

	// Start is the true initial pose. The truth walks through the
	// waypoints at Speed, facing its direction of travel; with no
	// waypoints it stands still.
	Start     geom.Pose   `json:"start"`
	Waypoints []geom.Pose `json:"waypoints,omitempty"`
	Speed     float64     `json:"speed_mm_per_frame"`

	// TrustStart seeds the pool at Start instead of the walk-in poses,
	// skipping the global localization phase.
	TrustStart bool `json:"trust_start,omitempty"`

	Sensor    SensorProfile `json:"sensor"`
	Blackouts []FrameRange  `json:"blackouts,omitempty"`
	Kidnaps   []KidnapEvent `json:"kidnaps,omitempty"`
}

// Validate checks the scenario for values the runner cannot work with.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario must have a name")
	}
	if s.Frames < 1 {
		return fmt.Errorf("frames must be >= 1, got %d", s.Frames)
	}
	if !s.Start.IsFinite() {
		return fmt.Errorf("start pose must be finite, got %v", s.Start)
	}
	for i, w := range s.Waypoints {
		if !w.IsFinite() {
			return fmt.Errorf("waypoint %d must be finite, got %v", i, w)
		}
	}
	if s.Speed < 0 {
		return fmt.Errorf("speed must be >= 0, got %f", s.Speed)
	}
	if s.Sensor.VisibilityRadius <= 0 {
		return fmt.Errorf("visibility radius must be positive, got %f", s.Sensor.VisibilityRadius)
	}
	if s.Sensor.FieldOfView <= 0 || s.Sensor.FieldOfView > 2*math.Pi {
		return fmt.Errorf("field of view must be in (0, 2pi], got %f", s.Sensor.FieldOfView)
	}
	noises := map[string]float64{
		"landmark_noise_mm":        s.Sensor.LandmarkNoise,
		"line_offset_noise_mm":     s.Sensor.LineOffsetNoise,
		"line_direction_noise_rad": s.Sensor.LineDirectionNoise,
		"pose_noise_xy_mm":         s.Sensor.PoseNoiseXY,
		"pose_noise_rot_rad":       s.Sensor.PoseNoiseRot,
		"odometry_noise_factor":    s.Sensor.OdometryNoiseFactor,
	}
	for name, v := range noises {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%s must be >= 0, got %f", name, v)
		}
	}
	if s.Sensor.PoseCadence < 0 {
		return fmt.Errorf("pose_cadence_frames must be >= 0, got %d", s.Sensor.PoseCadence)
	}
	if q := s.Sensor.MotionQuality; q < 0 || q > 1 || math.IsNaN(q) {
		return fmt.Errorf("motion_quality must be in [0, 1], got %f", q)
	}
	for i, b := range s.Blackouts {
		if b.From > b.To || b.From < 0 {
			return fmt.Errorf("blackout %d has invalid range [%d, %d]", i, b.From, b.To)
		}
	}
	for i, k := range s.Kidnaps {
		if k.Frame < 0 || k.Frame >= s.Frames {
			return fmt.Errorf("kidnap %d at frame %d outside run of %d frames", i, k.Frame, s.Frames)
		}
		if !k.To.IsFinite() {
			return fmt.Errorf("kidnap %d target must be finite, got %v", i, k.To)
		}
	}
	return nil
}

// blackedOut reports whether observations are suppressed at frame.
func (s *Scenario) blackedOut(frame int) bool {
	for _, b := range s.Blackouts {
		if b.Contains(frame) {
			return true
		}
	}
	return false
}

// LoadScenario loads a scenario from a JSON file. The file must have a
// .json extension and stay under the max file size.
func LoadScenario(path string) (*Scenario, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("scenario file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scenario file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("scenario file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scn := &Scenario{}
	if err := json.Unmarshal(data, scn); err != nil {
		return nil, fmt.Errorf("failed to parse scenario JSON: %w", err)
	}
	if err := scn.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scn, nil
}
