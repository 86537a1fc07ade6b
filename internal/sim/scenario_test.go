package sim

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfield-robotics/fieldpose/internal/geom"
)

func validScenario() *Scenario {
	return &Scenario{
		Name:   "walk_center",
		Frames: 100,
		Seed:   7,
		Start:  geom.NewPose(-3000, 0, 0),
		Waypoints: []geom.Pose{
			geom.NewPose(-1000, 0, 0),
		},
		Speed: 25,
		Sensor: SensorProfile{
			VisibilityRadius:   5000,
			FieldOfView:        2 * math.Pi,
			LandmarkNoise:      30,
			LineOffsetNoise:    30,
			LineDirectionNoise: 0.02,
			MotionQuality:      0.9,
		},
	}
}

func TestScenarioValidate(t *testing.T) {
	if err := validScenario().Validate(); err != nil {
		t.Fatalf("valid scenario rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Scenario)
	}{
		{"empty name", func(s *Scenario) { s.Name = "" }},
		{"zero frames", func(s *Scenario) { s.Frames = 0 }},
		{"negative speed", func(s *Scenario) { s.Speed = -1 }},
		{"non-finite start", func(s *Scenario) { s.Start.X = math.NaN() }},
		{"non-finite waypoint", func(s *Scenario) { s.Waypoints[0].Y = math.Inf(1) }},
		{"zero visibility", func(s *Scenario) { s.Sensor.VisibilityRadius = 0 }},
		{"oversized field of view", func(s *Scenario) { s.Sensor.FieldOfView = 7 }},
		{"negative landmark noise", func(s *Scenario) { s.Sensor.LandmarkNoise = -1 }},
		{"negative pose cadence", func(s *Scenario) { s.Sensor.PoseCadence = -2 }},
		{"motion quality above one", func(s *Scenario) { s.Sensor.MotionQuality = 1.5 }},
		{"inverted blackout", func(s *Scenario) {
			s.Blackouts = []FrameRange{{From: 50, To: 40}}
		}},
		{"kidnap past end", func(s *Scenario) {
			s.Kidnaps = []KidnapEvent{{Frame: 100, To: geom.NewPose(0, 0, 0)}}
		}},
	}
	for _, tc := range cases {
		scn := validScenario()
		tc.mutate(scn)
		if err := scn.Validate(); err == nil {
			t.Errorf("%s: expected validation error, got nil", tc.name)
		}
	}
}

func TestScenarioBlackedOut(t *testing.T) {
	scn := validScenario()
	scn.Blackouts = []FrameRange{{From: 10, To: 20}, {From: 50, To: 50}}

	for frame, want := range map[int]bool{
		9: false, 10: true, 15: true, 20: true, 21: false,
		49: false, 50: true, 51: false,
	} {
		if got := scn.blackedOut(frame); got != want {
			t.Errorf("blackedOut(%d) = %v, want %v", frame, got, want)
		}
	}
}

func TestLoadScenario(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "walk.json")

	scnJSON := `{
  "name": "straight_walk",
  "description": "one lap up the own half",
  "frames": 200,
  "seed": 42,
  "start": {"x_mm": -3000, "y_mm": 500, "rot_rad": 0.3},
  "waypoints": [{"x_mm": -1500, "y_mm": 500, "rot_rad": 0}],
  "speed_mm_per_frame": 20,
  "trust_start": true,
  "sensor": {
    "visibility_radius_mm": 5500,
    "field_of_view_rad": 3.0,
    "landmark_noise_mm": 40,
    "line_offset_noise_mm": 35,
    "line_direction_noise_rad": 0.03,
    "pose_cadence_frames": 10,
    "pose_noise_xy_mm": 120,
    "pose_noise_rot_rad": 0.1,
    "odometry_noise_factor": 0.05,
    "motion_quality": 0.8
  },
  "blackouts": [{"from": 80, "to": 110}],
  "kidnaps": [{"frame": 140, "to": {"x_mm": -2000, "y_mm": -1000, "rot_rad": 1.0}}]
}`
	if err := os.WriteFile(path, []byte(scnJSON), 0644); err != nil {
		t.Fatalf("Failed to write scenario: %v", err)
	}

	scn, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}
	if scn.Name != "straight_walk" {
		t.Errorf("Name = %q, want straight_walk", scn.Name)
	}
	if scn.Frames != 200 || scn.Seed != 42 {
		t.Errorf("Frames/Seed = %d/%d, want 200/42", scn.Frames, scn.Seed)
	}
	if !scn.TrustStart {
		t.Error("TrustStart = false, want true")
	}
	if scn.Start.X != -3000 || scn.Start.Y != 500 || scn.Start.Rot != 0.3 {
		t.Errorf("Start = %+v, want (-3000, 500, 0.3)", scn.Start)
	}
	if len(scn.Waypoints) != 1 || scn.Waypoints[0].X != -1500 {
		t.Errorf("Waypoints = %+v, want one at x=-1500", scn.Waypoints)
	}
	if scn.Sensor.PoseCadence != 10 || scn.Sensor.VisibilityRadius != 5500 {
		t.Errorf("Sensor = %+v, want cadence 10 and visibility 5500", scn.Sensor)
	}
	if len(scn.Blackouts) != 1 || scn.Blackouts[0].From != 80 || scn.Blackouts[0].To != 110 {
		t.Errorf("Blackouts = %+v, want [80, 110]", scn.Blackouts)
	}
	if len(scn.Kidnaps) != 1 || scn.Kidnaps[0].Frame != 140 {
		t.Errorf("Kidnaps = %+v, want one at frame 140", scn.Kidnaps)
	}
}

func TestLoadScenarioRejectsBadInput(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadScenario(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("Expected error for missing file, got nil")
	}

	badExt := filepath.Join(tmpDir, "walk.yaml")
	if err := os.WriteFile(badExt, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadScenario(badExt); err == nil {
		t.Error("Expected error for non-json extension, got nil")
	}

	badJSON := filepath.Join(tmpDir, "broken.json")
	if err := os.WriteFile(badJSON, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadScenario(badJSON); err == nil {
		t.Error("Expected error for malformed JSON, got nil")
	}

	invalid := filepath.Join(tmpDir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"name": "x", "frames": 0}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadScenario(invalid); err == nil {
		t.Error("Expected validation error for zero frames, got nil")
	}
}
