package main

import (
	"strings"
	"testing"

	"github.com/openfield-robotics/fieldpose/internal/localization"
	"github.com/openfield-robotics/fieldpose/internal/sim"
	"github.com/openfield-robotics/fieldpose/internal/units"
)

func TestFormatSummary(t *testing.T) {
	res := &sim.RunResult{
		RunID:    "test-run-id",
		Scenario: sim.Scenario{Name: "walk_square", Seed: 42},
		Summary: sim.RunSummary{
			Frames:                300,
			MeanTranslationError:  123.4,
			MaxTranslationError:   2600.0,
			MeanRotationError:     0.1,
			FinalTranslationError: 48.0,
			ConvergenceFrame:      4,
			SuperbFrames:          210,
			OkayFrames:            70,
			PoorFrames:            20,
			MirroredFrames:        3,
		},
	}

	out := formatSummary(res, units.M)

	for _, want := range []string{
		"walk_square (300 frames, seed 42)",
		"test-run-id",
		"Converged:   frame 4",
		"Mean error:  0.123 m",
		"Max error:   2.600 m",
		"Final error: 0.048 m",
		"210 superb / 70 okay / 20 poor",
		"Mirrored:    3 frames on the reflected pose",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary missing %q:\n%s", want, out)
		}
	}
}

func TestFormatSummaryNeverConverged(t *testing.T) {
	res := &sim.RunResult{
		Scenario: sim.Scenario{Name: "lost"},
		Summary:  sim.RunSummary{ConvergenceFrame: -1},
	}

	out := formatSummary(res, units.MM)
	if !strings.Contains(out, "Converged:   never") {
		t.Errorf("Expected never-converged marker, got:\n%s", out)
	}
}

func TestLoadPoolConfigDefault(t *testing.T) {
	cfg, err := loadPoolConfig("")
	if err != nil {
		t.Fatalf("loadPoolConfig failed: %v", err)
	}
	if cfg != localization.DefaultPoolConfig() {
		t.Error("Expected built-in defaults when no tuning file is given")
	}
}

func TestLoadFieldModelDefault(t *testing.T) {
	fm, err := loadFieldModel("")
	if err != nil {
		t.Fatalf("loadFieldModel failed: %v", err)
	}
	if len(fm.Lines) == 0 || len(fm.Landmarks) == 0 {
		t.Error("Expected default field model with lines and landmarks")
	}
}
