package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openfield-robotics/fieldpose/internal/geom"
	"github.com/openfield-robotics/fieldpose/internal/sim"
)

// RunHeader is the summary row returned by ListRuns.
type RunHeader struct {
	RunID                string  `json:"run_id"`
	ScenarioName         string  `json:"scenario_name"`
	Seed                 int64   `json:"seed"`
	Frames               int     `json:"frames"`
	MeanTranslationError float64 `json:"mean_translation_error_mm"`
	ConvergenceFrame     int     `json:"convergence_frame"`
	CreatedAt            string  `json:"created_at"`
}

// SaveRun stores the run header and all frame records in one
// transaction.
func (s *Store) SaveRun(ctx context.Context, res *sim.RunResult) error {
	scenarioJSON, err := json.Marshal(res.Scenario)
	if err != nil {
		return fmt.Errorf("failed to marshal scenario: %w", err)
	}
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	tx, err := s.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, scenario_name, scenario_json, seed, frames,
			mean_translation_error_mm, max_translation_error_mm,
			mean_rotation_error_rad, final_translation_error_mm,
			convergence_frame, superb_frames, okay_frames, poor_frames,
			mirrored_frames, metrics_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Scenario.Name, string(scenarioJSON), res.Scenario.Seed,
		res.Summary.Frames,
		res.Summary.MeanTranslationError, res.Summary.MaxTranslationError,
		res.Summary.MeanRotationError, res.Summary.FinalTranslationError,
		res.Summary.ConvergenceFrame,
		res.Summary.SuperbFrames, res.Summary.OkayFrames, res.Summary.PoorFrames,
		res.Summary.MirroredFrames, string(metricsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", res.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_frames (
			run_id, frame,
			truth_x_mm, truth_y_mm, truth_rot_rad,
			estimate_x_mm, estimate_y_mm, estimate_rot_rad,
			validity, quality, hypothesis_count, observation_count,
			translation_error_mm, rotation_error_rad, mirror_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range res.Records {
		_, err := stmt.ExecContext(ctx, res.RunID, r.Frame,
			r.Truth.X, r.Truth.Y, r.Truth.Rot,
			r.Estimate.X, r.Estimate.Y, r.Estimate.Rot,
			r.Validity, r.Quality, r.HypothesisCount, r.ObservationCount,
			r.TranslationError, r.RotationError, r.MirrorError,
		)
		if err != nil {
			return fmt.Errorf("failed to insert frame %d of run %s: %w", r.Frame, res.RunID, err)
		}
	}

	return tx.Commit()
}

// GetRun loads a stored run, including all frame records in frame
// order.
func (s *Store) GetRun(ctx context.Context, runID string) (*sim.RunResult, error) {
	res := &sim.RunResult{RunID: runID}
	var scenarioJSON, metricsJSON string

	err := s.QueryRowContext(ctx, `
		SELECT scenario_json, frames,
			mean_translation_error_mm, max_translation_error_mm,
			mean_rotation_error_rad, final_translation_error_mm,
			convergence_frame, superb_frames, okay_frames, poor_frames,
			mirrored_frames, metrics_json
		FROM runs WHERE run_id = ?`, runID).Scan(
		&scenarioJSON, &res.Summary.Frames,
		&res.Summary.MeanTranslationError, &res.Summary.MaxTranslationError,
		&res.Summary.MeanRotationError, &res.Summary.FinalTranslationError,
		&res.Summary.ConvergenceFrame,
		&res.Summary.SuperbFrames, &res.Summary.OkayFrames, &res.Summary.PoorFrames,
		&res.Summary.MirroredFrames, &metricsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	if err := json.Unmarshal([]byte(scenarioJSON), &res.Scenario); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario of run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &res.Metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics of run %s: %w", runID, err)
	}

	rows, err := s.QueryContext(ctx, `
		SELECT frame,
			truth_x_mm, truth_y_mm, truth_rot_rad,
			estimate_x_mm, estimate_y_mm, estimate_rot_rad,
			validity, quality, hypothesis_count, observation_count,
			translation_error_mm, rotation_error_rad, mirror_error
		FROM run_frames WHERE run_id = ? ORDER BY frame`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load frames of run %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r sim.FrameRecord
		var tx, ty, trot, ex, ey, erot float64
		if err := rows.Scan(&r.Frame,
			&tx, &ty, &trot, &ex, &ey, &erot,
			&r.Validity, &r.Quality, &r.HypothesisCount, &r.ObservationCount,
			&r.TranslationError, &r.RotationError, &r.MirrorError,
		); err != nil {
			return nil, err
		}
		r.Truth = geom.NewPose(tx, ty, trot)
		r.Estimate = geom.NewPose(ex, ey, erot)
		res.Records = append(res.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// ListRuns returns the stored run headers, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunHeader, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT run_id, scenario_name, seed, frames,
			mean_translation_error_mm, convergence_frame, created_at
		FROM runs ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var headers []RunHeader
	for rows.Next() {
		var h RunHeader
		if err := rows.Scan(&h.RunID, &h.ScenarioName, &h.Seed, &h.Frames,
			&h.MeanTranslationError, &h.ConvergenceFrame, &h.CreatedAt); err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// DeleteRun removes a run and its frame records.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_frames WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete frames of run %s: %w", runID, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %q not found", runID)
	}
	return tx.Commit()
}
