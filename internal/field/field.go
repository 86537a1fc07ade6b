// Package field provides the immutable playing-field model used by the
// localization packages: outer dimensions, line segments, the center
// circle, and point landmarks, all in millimetres in the field frame.
//
// The field frame has its origin at the center mark, x pointing at the
// opponent goal and y to the left. The model is symmetric under a half
// turn around the origin, which is what makes the robot's pose ambiguous
// without side information.
package field

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"

	"github.com/openfield-robotics/fieldpose/internal/geom"
)

// DefaultFieldPath is the path to the canonical field geometry file.
const DefaultFieldPath = "config/field.defaults.json"

// LandmarkKind identifies the class of a point landmark.
type LandmarkKind string

const (
	LandmarkPenaltyMark LandmarkKind = "penalty_mark"
	LandmarkCenterMark  LandmarkKind = "center_mark"
	LandmarkGoalPost    LandmarkKind = "goal_post"
)

// Landmark is a point feature at a known field position.
type Landmark struct {
	Kind     LandmarkKind `json:"kind"`
	Position r2.Point     `json:"position"`
}

// Dimensions describes the field geometry. All values are millimetres
// measured from the field center; the field extends symmetrically in
// both directions.
type Dimensions struct {
	GroundLineX          float64 `json:"ground_line_x_mm"` // x of the goal lines
	SidelineY            float64 `json:"sideline_y_mm"`    // y of the touchlines
	CenterCircleRadius   float64 `json:"center_circle_radius_mm"`
	PenaltyMarkX         float64 `json:"penalty_mark_x_mm"`
	PenaltyAreaDepth     float64 `json:"penalty_area_depth_mm"`
	PenaltyAreaHalfWidth float64 `json:"penalty_area_half_width_mm"`
	GoalAreaDepth        float64 `json:"goal_area_depth_mm"`
	GoalAreaHalfWidth    float64 `json:"goal_area_half_width_mm"`
	GoalPostGap          float64 `json:"goal_post_half_gap_mm"` // half distance between posts
	BorderStrip          float64 `json:"border_strip_mm"`       // carpet beyond the lines
}

// DefaultDimensions returns the standard 9x6 metre field layout.
func DefaultDimensions() Dimensions {
	return Dimensions{
		GroundLineX:          4500,
		SidelineY:            3000,
		CenterCircleRadius:   750,
		PenaltyMarkX:         3200,
		PenaltyAreaDepth:     1650,
		PenaltyAreaHalfWidth: 2000,
		GoalAreaDepth:        600,
		GoalAreaHalfWidth:    1100,
		GoalPostGap:          800,
		BorderStrip:          700,
	}
}

// Validate checks the dimensions for internal consistency.
func (d Dimensions) Validate() error {
	if d.GroundLineX <= 0 || d.SidelineY <= 0 {
		return fmt.Errorf("field extent must be positive, got x=%f y=%f", d.GroundLineX, d.SidelineY)
	}
	if d.CenterCircleRadius <= 0 {
		return fmt.Errorf("center_circle_radius_mm must be positive, got %f", d.CenterCircleRadius)
	}
	if d.CenterCircleRadius >= d.GroundLineX || d.CenterCircleRadius >= d.SidelineY {
		return fmt.Errorf("center circle radius %f does not fit the field", d.CenterCircleRadius)
	}
	if d.PenaltyMarkX <= 0 || d.PenaltyMarkX >= d.GroundLineX {
		return fmt.Errorf("penalty_mark_x_mm must lie inside the field, got %f", d.PenaltyMarkX)
	}
	if d.PenaltyAreaDepth <= 0 || d.PenaltyAreaDepth >= d.GroundLineX {
		return fmt.Errorf("penalty_area_depth_mm out of range: %f", d.PenaltyAreaDepth)
	}
	if d.PenaltyAreaHalfWidth <= 0 || d.PenaltyAreaHalfWidth > d.SidelineY {
		return fmt.Errorf("penalty_area_half_width_mm out of range: %f", d.PenaltyAreaHalfWidth)
	}
	if d.GoalAreaDepth <= 0 || d.GoalAreaDepth > d.PenaltyAreaDepth {
		return fmt.Errorf("goal_area_depth_mm out of range: %f", d.GoalAreaDepth)
	}
	if d.GoalAreaHalfWidth <= 0 || d.GoalAreaHalfWidth > d.PenaltyAreaHalfWidth {
		return fmt.Errorf("goal_area_half_width_mm out of range: %f", d.GoalAreaHalfWidth)
	}
	if d.GoalPostGap <= 0 || d.GoalPostGap > d.GoalAreaHalfWidth {
		return fmt.Errorf("goal_post_half_gap_mm out of range: %f", d.GoalPostGap)
	}
	if d.BorderStrip < 0 {
		return fmt.Errorf("border_strip_mm must be non-negative, got %f", d.BorderStrip)
	}
	return nil
}

// Model is the derived field geometry: every line segment and point
// landmark the registration stage can match against. Models are
// immutable after construction and safe to share.
type Model struct {
	Dim       Dimensions
	Lines     []geom.LineSegment
	Landmarks []Landmark
}

// NewModel derives the full line and landmark sets from the dimensions.
func NewModel(d Dimensions) (*Model, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field dimensions: %w", err)
	}

	m := &Model{Dim: d}

	pt := func(x, y float64) r2.Point { return r2.Point{X: x, Y: y} }
	seg := func(x1, y1, x2, y2 float64) geom.LineSegment {
		return geom.LineSegment{From: pt(x1, y1), To: pt(x2, y2)}
	}

	// Perimeter and halfway line.
	m.Lines = append(m.Lines,
		seg(-d.GroundLineX, -d.SidelineY, -d.GroundLineX, d.SidelineY), // own goal line
		seg(d.GroundLineX, -d.SidelineY, d.GroundLineX, d.SidelineY),   // opponent goal line
		seg(-d.GroundLineX, d.SidelineY, d.GroundLineX, d.SidelineY),   // left touchline
		seg(-d.GroundLineX, -d.SidelineY, d.GroundLineX, -d.SidelineY), // right touchline
		seg(0, -d.SidelineY, 0, d.SidelineY),                           // halfway line
	)

	// Penalty and goal areas, both ends.
	for _, sign := range []float64{-1, 1} {
		gx := sign * d.GroundLineX
		pf := sign * (d.GroundLineX - d.PenaltyAreaDepth)
		m.Lines = append(m.Lines,
			seg(gx, -d.PenaltyAreaHalfWidth, pf, -d.PenaltyAreaHalfWidth),
			seg(gx, d.PenaltyAreaHalfWidth, pf, d.PenaltyAreaHalfWidth),
			seg(pf, -d.PenaltyAreaHalfWidth, pf, d.PenaltyAreaHalfWidth),
		)
		gf := sign * (d.GroundLineX - d.GoalAreaDepth)
		m.Lines = append(m.Lines,
			seg(gx, -d.GoalAreaHalfWidth, gf, -d.GoalAreaHalfWidth),
			seg(gx, d.GoalAreaHalfWidth, gf, d.GoalAreaHalfWidth),
			seg(gf, -d.GoalAreaHalfWidth, gf, d.GoalAreaHalfWidth),
		)
	}

	// Point landmarks.
	m.Landmarks = append(m.Landmarks,
		Landmark{Kind: LandmarkCenterMark, Position: pt(0, 0)},
		Landmark{Kind: LandmarkPenaltyMark, Position: pt(d.PenaltyMarkX, 0)},
		Landmark{Kind: LandmarkPenaltyMark, Position: pt(-d.PenaltyMarkX, 0)},
	)
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			m.Landmarks = append(m.Landmarks, Landmark{
				Kind:     LandmarkGoalPost,
				Position: pt(sx*d.GroundLineX, sy*d.GoalPostGap),
			})
		}
	}

	return m, nil
}

// CenterCircleRadius returns the center circle radius in mm.
func (m *Model) CenterCircleRadius() float64 {
	return m.Dim.CenterCircleRadius
}

// InsideField reports whether pt lies on the marked field, expanded by
// margin on all sides.
func (m *Model) InsideField(pt r2.Point, margin float64) bool {
	return pt.X >= -m.Dim.GroundLineX-margin && pt.X <= m.Dim.GroundLineX+margin &&
		pt.Y >= -m.Dim.SidelineY-margin && pt.Y <= m.Dim.SidelineY+margin
}

// InsideCarpet reports whether pt lies on the walkable area including
// the border strip.
func (m *Model) InsideCarpet(pt r2.Point) bool {
	return m.InsideField(pt, m.Dim.BorderStrip)
}

// ClampToCarpet returns p with its position moved to the nearest point
// on the walkable area. The heading is unchanged.
func (m *Model) ClampToCarpet(p geom.Pose) geom.Pose {
	maxX := m.Dim.GroundLineX + m.Dim.BorderStrip
	maxY := m.Dim.SidelineY + m.Dim.BorderStrip
	if p.X > maxX {
		p.X = maxX
	} else if p.X < -maxX {
		p.X = -maxX
	}
	if p.Y > maxY {
		p.Y = maxY
	} else if p.Y < -maxY {
		p.Y = -maxY
	}
	return p
}

// WalkInPoses returns the conventional starting poses at the own-half
// touchlines, facing the field center. Used to seed the hypothesis pool
// and to respawn hypotheses after a return to the own half.
func (m *Model) WalkInPoses() []geom.Pose {
	x := -m.Dim.PenaltyMarkX
	return []geom.Pose{
		geom.NewPose(x, m.Dim.SidelineY, -math.Pi/2),
		geom.NewPose(x, -m.Dim.SidelineY, math.Pi/2),
	}
}

// Load reads field dimensions from a JSON file and derives the model.
func Load(path string) (*Model, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("field file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read field file: %w", err)
	}

	d := DefaultDimensions()
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse field JSON: %w", err)
	}

	return NewModel(d)
}

// MustLoadDefault loads the canonical field geometry from
// DefaultFieldPath, searching the current directory and common parent
// directories. Panics if the file cannot be loaded, intended for test
// setup.
func MustLoadDefault() *Model {
	candidates := []string{
		DefaultFieldPath,
		"../../" + DefaultFieldPath,
		"../../../" + DefaultFieldPath,
		"../../../../" + DefaultFieldPath,
	}
	for _, path := range candidates {
		if m, err := Load(path); err == nil {
			return m
		}
	}
	panic("cannot find " + DefaultFieldPath + " - run tests from repository root")
}
