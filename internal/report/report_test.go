package report

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfield-robotics/fieldpose/internal/field"
	"github.com/openfield-robotics/fieldpose/internal/geom"
	"github.com/openfield-robotics/fieldpose/internal/localization"
	"github.com/openfield-robotics/fieldpose/internal/sim"
)

func sampleRun(t *testing.T) *sim.RunResult {
	t.Helper()
	scn := &sim.Scenario{
		Name:      "report_smoke",
		Frames:    30,
		Seed:      13,
		Start:     geom.NewPose(-3000, 500, 0),
		Waypoints: []geom.Pose{geom.NewPose(-2400, 500, 0)},
		Speed:     20,
		Sensor: sim.SensorProfile{
			VisibilityRadius:    6000,
			FieldOfView:         2 * math.Pi,
			LandmarkNoise:       30,
			LineOffsetNoise:     30,
			LineDirectionNoise:  0.02,
			PoseCadence:         4,
			PoseNoiseXY:         80,
			PoseNoiseRot:        0.05,
			OdometryNoiseFactor: 0.05,
			MotionQuality:       0.9,
		},
	}
	fm, err := field.NewModel(field.DefaultDimensions())
	require.NoError(t, err)
	res, err := sim.Run(scn, fm, localization.DefaultPoolConfig())
	require.NoError(t, err)
	return res
}

func TestWriteHTML(t *testing.T) {
	res := sampleRun(t)
	path := filepath.Join(t.TempDir(), "run.html")

	require.NoError(t, WriteHTML(res, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)

	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, res.RunID)
	assert.Contains(t, html, "Pose Error")
	assert.Contains(t, html, "Trajectory")
	assert.Greater(t, len(data), 1000)
}

func TestWriteHTMLFailsOnBadPath(t *testing.T) {
	res := sampleRun(t)
	err := WriteHTML(res, filepath.Join(t.TempDir(), "missing", "run.html"))
	assert.Error(t, err)
}

func TestWritePlots(t *testing.T) {
	res := sampleRun(t)
	fm, err := field.NewModel(field.DefaultDimensions())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "plots")
	written, err := WritePlots(res, fm, dir)
	require.NoError(t, err)
	require.Len(t, written, 3)

	for _, path := range written {
		data, err := os.ReadFile(path)
		require.NoError(t, err, "plot %s", path)
		assert.True(t, strings.HasSuffix(path, ".png"))
		require.Greater(t, len(data), 8, "plot %s", path)
		assert.Equal(t, "\x89PNG", string(data[:4]), "plot %s should be a PNG", path)
	}
}
