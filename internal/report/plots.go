package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/openfield-robotics/fieldpose/internal/field"
	"github.com/openfield-robotics/fieldpose/internal/sim"
)

var (
	truthColor    = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	estimateColor = color.RGBA{R: 220, G: 60, B: 60, A: 255}
	validityColor = color.RGBA{R: 50, G: 110, B: 200, A: 255}
	fieldColor    = color.RGBA{R: 60, G: 160, B: 60, A: 255}
)

// WritePlots saves static PNG plots of the run into dir and returns
// the written file paths.
func WritePlots(res *sim.RunResult, fm *field.Model, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory: %w", err)
	}

	files := []struct {
		name  string
		write func(*sim.RunResult, *field.Model, string) error
	}{
		{"error.png", writeErrorPlot},
		{"validity.png", writeValidityPlot},
		{"trajectory.png", writeTrajectoryPlot},
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := f.write(res, fm, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeErrorPlot(res *sim.RunResult, _ *field.Model, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Translation Error", res.Scenario.Name)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Error (mm)"

	pts := make(plotter.XYs, 0, len(res.Records))
	for _, r := range res.Records {
		pts = append(pts, plotter.XY{X: float64(r.Frame), Y: r.TranslationError})
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = estimateColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("translation error", line)

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

func writeValidityPlot(res *sim.RunResult, _ *field.Model, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Estimate Validity", res.Scenario.Name)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Validity"
	p.Y.Min = 0
	p.Y.Max = 1

	pts := make(plotter.XYs, 0, len(res.Records))
	for _, r := range res.Records {
		pts = append(pts, plotter.XY{X: float64(r.Frame), Y: r.Validity})
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = validityColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("validity", line)

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

// writeTrajectoryPlot draws the truth and estimate paths over the
// field lines.
func writeTrajectoryPlot(res *sim.RunResult, fm *field.Model, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Trajectory", res.Scenario.Name)
	p.X.Label.Text = "x (mm)"
	p.Y.Label.Text = "y (mm)"

	for _, seg := range fm.Lines {
		line, err := plotter.NewLine(plotter.XYs{
			{X: seg.From.X, Y: seg.From.Y},
			{X: seg.To.X, Y: seg.To.Y},
		})
		if err != nil {
			return err
		}
		line.Color = fieldColor
		line.Width = vg.Points(0.5)
		p.Add(line)
	}

	truthPts := make(plotter.XYs, 0, len(res.Records))
	estPts := make(plotter.XYs, 0, len(res.Records))
	for _, r := range res.Records {
		truthPts = append(truthPts, plotter.XY{X: r.Truth.X, Y: r.Truth.Y})
		estPts = append(estPts, plotter.XY{X: r.Estimate.X, Y: r.Estimate.Y})
	}

	truthLine, err := plotter.NewLine(truthPts)
	if err != nil {
		return err
	}
	truthLine.Color = truthColor
	truthLine.Width = vg.Points(2)
	p.Add(truthLine)
	p.Legend.Add("truth", truthLine)

	estLine, err := plotter.NewLine(estPts)
	if err != nil {
		return err
	}
	estLine.Color = estimateColor
	estLine.Width = vg.Points(1)
	p.Add(estLine)
	p.Legend.Add("estimate", estLine)

	// Keep the field aspect: 2:3 matches the carpet.
	return p.Save(12*vg.Inch, 8*vg.Inch, path)
}
