// Command locsim runs a localization scenario against the hypothesis
// pool, prints the outcome, and optionally stores the run and renders
// reports.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfield-robotics/fieldpose/internal/config"
	"github.com/openfield-robotics/fieldpose/internal/field"
	"github.com/openfield-robotics/fieldpose/internal/localization"
	"github.com/openfield-robotics/fieldpose/internal/report"
	"github.com/openfield-robotics/fieldpose/internal/sim"
	"github.com/openfield-robotics/fieldpose/internal/storage"
	"github.com/openfield-robotics/fieldpose/internal/units"
	"github.com/openfield-robotics/fieldpose/internal/version"
)

var (
	scenarioFile  = flag.String("scenario", "", "Path to the scenario JSON file (required)")
	tuningFile    = flag.String("tuning", "", "Path to a tuning config JSON file (default: built-in defaults)")
	fieldFile     = flag.String("field", "", "Path to a field dimensions JSON file (default: built-in SPL field)")
	dbFile        = flag.String("db", "", "Path to the SQLite database to store the run (optional)")
	migrationsDir = flag.String("migrations", "migrations", "Path to the schema migrations directory")
	reportDir     = flag.String("report-dir", "", "Directory for the HTML report and PNG plots (optional)")
	seed          = flag.Int64("seed", 0, "Override the scenario seed (0 keeps the scenario's seed)")
	frames        = flag.Int("frames", 0, "Override the scenario frame count (0 keeps the scenario's count)")
	distUnits     = flag.String("units", units.M, "Distance units for the printed summary")
	verbose       = flag.Bool("verbose", false, "Log pool diagnostics")
	trace         = flag.Bool("trace", false, "Log filter-level trace output (implies -verbose)")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *scenarioFile == "" {
		log.Fatal("-scenario is required")
	}
	if !units.IsValid(*distUnits) {
		log.Fatalf("invalid units %q, valid values: %s", *distUnits, units.GetValidUnitsString())
	}

	writers := localization.LogWriters{Ops: os.Stderr}
	if *verbose || *trace {
		writers.Diag = os.Stderr
	}
	if *trace {
		writers.Trace = os.Stderr
	}
	localization.SetLogWriters(writers)

	scn, err := sim.LoadScenario(*scenarioFile)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}
	if *seed != 0 {
		scn.Seed = *seed
	}
	if *frames > 0 {
		scn.Frames = *frames
	}

	fm, err := loadFieldModel(*fieldFile)
	if err != nil {
		log.Fatalf("Failed to load field model: %v", err)
	}

	poolCfg, err := loadPoolConfig(*tuningFile)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}

	log.Printf("Running scenario %q (%d frames, seed %d)", scn.Name, scn.Frames, scn.Seed)
	res, err := sim.Run(scn, fm, poolCfg)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	fmt.Print(formatSummary(res, *distUnits))

	if *dbFile != "" {
		if err := saveRun(res, *dbFile, *migrationsDir); err != nil {
			log.Fatalf("Failed to store run: %v", err)
		}
		log.Printf("Stored run %s in %s", res.RunID, *dbFile)
	}

	if *reportDir != "" {
		if err := writeReports(res, fm, *reportDir); err != nil {
			log.Fatalf("Failed to write reports: %v", err)
		}
		log.Printf("Wrote reports for run %s to %s", res.RunID, *reportDir)
	}
}

func loadFieldModel(path string) (*field.Model, error) {
	if path == "" {
		return field.NewModel(field.DefaultDimensions())
	}
	return field.Load(path)
}

func loadPoolConfig(path string) (localization.PoolConfig, error) {
	if path == "" {
		return localization.DefaultPoolConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return localization.PoolConfig{}, err
	}
	return localization.PoolConfigFromTuning(cfg), nil
}

// formatSummary renders the human-readable outcome of a run.
func formatSummary(res *sim.RunResult, distUnits string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario:    %s (%d frames, seed %d)\n",
		res.Scenario.Name, res.Summary.Frames, res.Scenario.Seed)
	fmt.Fprintf(&b, "Run ID:      %s\n", res.RunID)

	converged := "never"
	if res.Summary.ConvergenceFrame >= 0 {
		converged = fmt.Sprintf("frame %d", res.Summary.ConvergenceFrame)
	}
	fmt.Fprintf(&b, "Converged:   %s\n", converged)

	fmt.Fprintf(&b, "Mean error:  %.3f %s / %.2f deg\n",
		units.ConvertDistance(res.Summary.MeanTranslationError, distUnits), distUnits,
		units.RadToDeg(res.Summary.MeanRotationError))
	fmt.Fprintf(&b, "Max error:   %.3f %s\n",
		units.ConvertDistance(res.Summary.MaxTranslationError, distUnits), distUnits)
	fmt.Fprintf(&b, "Final error: %.3f %s\n",
		units.ConvertDistance(res.Summary.FinalTranslationError, distUnits), distUnits)
	fmt.Fprintf(&b, "Quality:     %d superb / %d okay / %d poor\n",
		res.Summary.SuperbFrames, res.Summary.OkayFrames, res.Summary.PoorFrames)
	if res.Summary.MirroredFrames > 0 {
		fmt.Fprintf(&b, "Mirrored:    %d frames on the reflected pose\n", res.Summary.MirroredFrames)
	}
	return b.String()
}

func saveRun(res *sim.RunResult, dbPath, migrations string) error {
	store, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.MigrateUp(migrations); err != nil {
		return err
	}
	return store.SaveRun(context.Background(), res)
}

func writeReports(res *sim.RunResult, fm *field.Model, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := report.WriteHTML(res, filepath.Join(dir, res.RunID+".html")); err != nil {
		return err
	}
	_, err := report.WritePlots(res, fm, filepath.Join(dir, res.RunID))
	return err
}
