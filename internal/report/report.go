// Package report renders stored simulation runs as interactive HTML
// pages and static PNG plots.
package report

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/openfield-robotics/fieldpose/internal/sim"
)

// WriteHTML renders the run as a single self-contained page: error and
// validity time series plus the truth and estimate trajectories.
func WriteHTML(res *sim.RunResult, path string) error {
	frames := make([]int, len(res.Records))
	transErr := make([]opts.LineData, len(res.Records))
	rotErr := make([]opts.LineData, len(res.Records))
	validity := make([]opts.LineData, len(res.Records))
	mirrored := make([]opts.LineData, len(res.Records))
	hypCount := make([]opts.LineData, len(res.Records))
	obsCount := make([]opts.LineData, len(res.Records))
	truthPts := make([]opts.ScatterData, len(res.Records))
	estPts := make([]opts.ScatterData, len(res.Records))

	maxAbs := 1.0
	for i, r := range res.Records {
		frames[i] = r.Frame
		transErr[i] = opts.LineData{Value: r.TranslationError}
		rotErr[i] = opts.LineData{Value: r.RotationError}
		validity[i] = opts.LineData{Value: r.Validity}
		mirrored[i] = opts.LineData{Value: 0}
		if r.MirrorError {
			mirrored[i] = opts.LineData{Value: 1}
		}
		hypCount[i] = opts.LineData{Value: r.HypothesisCount}
		obsCount[i] = opts.LineData{Value: r.ObservationCount}
		truthPts[i] = opts.ScatterData{Value: []interface{}{r.Truth.X, r.Truth.Y}}
		estPts[i] = opts.ScatterData{Value: []interface{}{r.Estimate.X, r.Estimate.Y}}
		for _, v := range []float64{r.Truth.X, r.Truth.Y, r.Estimate.X, r.Estimate.Y} {
			if v > maxAbs {
				maxAbs = v
			}
			if -v > maxAbs {
				maxAbs = -v
			}
		}
	}
	subtitle := fmt.Sprintf("run=%s seed=%d frames=%d", res.RunID, res.Scenario.Seed, res.Summary.Frames)

	errLine := charts.NewLine()
	errLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Pose Error", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "translation (mm)"}),
	)
	errLine.SetXAxis(frames).
		AddSeries("translation error (mm)", transErr).
		AddSeries("rotation error (rad)", rotErr)

	validityLine := charts.NewLine()
	validityLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Estimate Validity", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "validity", Min: 0, Max: 1}),
	)
	validityLine.SetXAxis(frames).
		AddSeries("validity", validity).
		AddSeries("mirrored", mirrored)

	countLine := charts.NewLine()
	countLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Hypotheses and Observations", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
	)
	countLine.SetXAxis(frames).
		AddSeries("hypotheses", hypCount).
		AddSeries("observations", obsCount)

	// Square axes keep the field aspect honest.
	pad := maxAbs * 1.05
	trajectory := charts.NewScatter()
	trajectory.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "800px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "x (mm)"}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "y (mm)"}),
	)
	trajectory.AddSeries("truth", truthPts,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}))
	trajectory.AddSeries("estimate", estPts,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))

	page := components.NewPage()
	page.PageTitle = "fieldpose run " + res.RunID
	page.AddCharts(errLine, validityLine, countLine, trajectory)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}
