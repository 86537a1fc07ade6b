package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so that partial JSON files only override what
// they mention; the Get* methods supply the compiled-in fallbacks.
type TuningConfig struct {
	// Hypothesis pool params
	MaxHypotheses            *int     `json:"max_hypotheses,omitempty"`
	ValidityUpdateFrames     *int     `json:"validity_update_frames,omitempty"`
	GoodObservationThreshold *float64 `json:"good_observation_threshold,omitempty"`
	BaseValidityWeighting    *float64 `json:"base_validity_weighting,omitempty"`
	LowWeightingStreakFrames *int     `json:"low_weighting_streak_frames,omitempty"`
	DedupRadius              *float64 `json:"dedup_radius_mm,omitempty"`
	DedupAngle               *float64 `json:"dedup_angle_rad,omitempty"`
	MirroredTwinCount        *int     `json:"mirrored_twin_count,omitempty"`
	ResampleJitterXY         *float64 `json:"resample_jitter_xy_mm,omitempty"`
	ResampleJitterRot        *float64 `json:"resample_jitter_rot_rad,omitempty"`

	// Filter noise params
	BaseProcessNoiseXY      *float64 `json:"base_process_noise_xy_mm,omitempty"`
	BaseProcessNoiseRot     *float64 `json:"base_process_noise_rot_rad,omitempty"`
	OdometryNoiseFactorXY   *float64 `json:"odometry_noise_factor_xy,omitempty"`
	OdometryNoiseFactorRot  *float64 `json:"odometry_noise_factor_rot,omitempty"`
	DefaultPoseDeviationXY  *float64 `json:"default_pose_deviation_xy_mm,omitempty"`
	DefaultPoseDeviationRot *float64 `json:"default_pose_deviation_rot_rad,omitempty"`

	// Published-estimate params
	CombinedVarianceRotWeight *float64 `json:"combined_variance_rot_weight,omitempty"`
	QualitySuperbValidity     *float64 `json:"quality_superb_validity,omitempty"`
	QualityOkayValidity       *float64 `json:"quality_okay_validity,omitempty"`
	StarvationPoorFrames      *int     `json:"starvation_poor_frames,omitempty"`

	// Side information params
	OwnHalfSlack *float64 `json:"own_half_slack_mm,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MaxHypotheses != nil && *c.MaxHypotheses < 1 {
		return fmt.Errorf("max_hypotheses must be at least 1, got %d", *c.MaxHypotheses)
	}
	if c.ValidityUpdateFrames != nil && *c.ValidityUpdateFrames < 1 {
		return fmt.Errorf("validity_update_frames must be at least 1, got %d", *c.ValidityUpdateFrames)
	}
	if c.GoodObservationThreshold != nil {
		if *c.GoodObservationThreshold <= 0 || *c.GoodObservationThreshold > 1 {
			return fmt.Errorf("good_observation_threshold must be in (0, 1], got %f", *c.GoodObservationThreshold)
		}
	}
	if c.BaseValidityWeighting != nil {
		if *c.BaseValidityWeighting < 0 || *c.BaseValidityWeighting > 1 {
			return fmt.Errorf("base_validity_weighting must be between 0 and 1, got %f", *c.BaseValidityWeighting)
		}
	}
	if c.LowWeightingStreakFrames != nil && *c.LowWeightingStreakFrames < 1 {
		return fmt.Errorf("low_weighting_streak_frames must be at least 1, got %d", *c.LowWeightingStreakFrames)
	}
	if c.MirroredTwinCount != nil && *c.MirroredTwinCount < 0 {
		return fmt.Errorf("mirrored_twin_count must be non-negative, got %d", *c.MirroredTwinCount)
	}
	for name, v := range map[string]*float64{
		"dedup_radius_mm":                c.DedupRadius,
		"dedup_angle_rad":                c.DedupAngle,
		"resample_jitter_xy_mm":          c.ResampleJitterXY,
		"resample_jitter_rot_rad":        c.ResampleJitterRot,
		"base_process_noise_xy_mm":       c.BaseProcessNoiseXY,
		"base_process_noise_rot_rad":     c.BaseProcessNoiseRot,
		"odometry_noise_factor_xy":       c.OdometryNoiseFactorXY,
		"odometry_noise_factor_rot":      c.OdometryNoiseFactorRot,
		"combined_variance_rot_weight":   c.CombinedVarianceRotWeight,
		"own_half_slack_mm":              c.OwnHalfSlack,
		"default_pose_deviation_xy_mm":   c.DefaultPoseDeviationXY,
		"default_pose_deviation_rot_rad": c.DefaultPoseDeviationRot,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	if c.DefaultPoseDeviationXY != nil && *c.DefaultPoseDeviationXY == 0 {
		return fmt.Errorf("default_pose_deviation_xy_mm must be positive")
	}
	if c.DefaultPoseDeviationRot != nil && *c.DefaultPoseDeviationRot == 0 {
		return fmt.Errorf("default_pose_deviation_rot_rad must be positive")
	}
	if c.QualitySuperbValidity != nil || c.QualityOkayValidity != nil {
		superb := c.GetQualitySuperbValidity()
		okay := c.GetQualityOkayValidity()
		if superb < 0 || superb > 1 || okay < 0 || okay > 1 {
			return fmt.Errorf("quality validity thresholds must be between 0 and 1")
		}
		if okay > superb {
			return fmt.Errorf("quality_okay_validity %f must not exceed quality_superb_validity %f", okay, superb)
		}
	}
	if c.StarvationPoorFrames != nil && *c.StarvationPoorFrames < 1 {
		return fmt.Errorf("starvation_poor_frames must be at least 1, got %d", *c.StarvationPoorFrames)
	}
	return nil
}

// GetMaxHypotheses returns the max_hypotheses value or the default.
func (c *TuningConfig) GetMaxHypotheses() int {
	if c.MaxHypotheses == nil {
		return 6
	}
	return *c.MaxHypotheses
}

// GetValidityUpdateFrames returns the validity_update_frames value or the default.
func (c *TuningConfig) GetValidityUpdateFrames() int {
	if c.ValidityUpdateFrames == nil {
		return 60
	}
	return *c.ValidityUpdateFrames
}

// GetGoodObservationThreshold returns the good_observation_threshold value or the default.
func (c *TuningConfig) GetGoodObservationThreshold() float64 {
	if c.GoodObservationThreshold == nil {
		return 0.6
	}
	return *c.GoodObservationThreshold
}

// GetBaseValidityWeighting returns the base_validity_weighting value or the default.
func (c *TuningConfig) GetBaseValidityWeighting() float64 {
	if c.BaseValidityWeighting == nil {
		return 0.1
	}
	return *c.BaseValidityWeighting
}

// GetLowWeightingStreakFrames returns the low_weighting_streak_frames value or the default.
func (c *TuningConfig) GetLowWeightingStreakFrames() int {
	if c.LowWeightingStreakFrames == nil {
		return 90
	}
	return *c.LowWeightingStreakFrames
}

// GetDedupRadius returns the dedup_radius_mm value or the default.
func (c *TuningConfig) GetDedupRadius() float64 {
	if c.DedupRadius == nil {
		return 150
	}
	return *c.DedupRadius
}

// GetDedupAngle returns the dedup_angle_rad value or the default.
func (c *TuningConfig) GetDedupAngle() float64 {
	if c.DedupAngle == nil {
		return 0.2
	}
	return *c.DedupAngle
}

// GetMirroredTwinCount returns the mirrored_twin_count value or the default.
func (c *TuningConfig) GetMirroredTwinCount() int {
	if c.MirroredTwinCount == nil {
		return 1
	}
	return *c.MirroredTwinCount
}

// GetResampleJitterXY returns the resample_jitter_xy_mm value or the default.
func (c *TuningConfig) GetResampleJitterXY() float64 {
	if c.ResampleJitterXY == nil {
		return 250
	}
	return *c.ResampleJitterXY
}

// GetResampleJitterRot returns the resample_jitter_rot_rad value or the default.
func (c *TuningConfig) GetResampleJitterRot() float64 {
	if c.ResampleJitterRot == nil {
		return 0.2
	}
	return *c.ResampleJitterRot
}

// GetBaseProcessNoiseXY returns the base_process_noise_xy_mm value or the default.
func (c *TuningConfig) GetBaseProcessNoiseXY() float64 {
	if c.BaseProcessNoiseXY == nil {
		return 8.0
	}
	return *c.BaseProcessNoiseXY
}

// GetBaseProcessNoiseRot returns the base_process_noise_rot_rad value or the default.
func (c *TuningConfig) GetBaseProcessNoiseRot() float64 {
	if c.BaseProcessNoiseRot == nil {
		return 0.02
	}
	return *c.BaseProcessNoiseRot
}

// GetOdometryNoiseFactorXY returns the odometry_noise_factor_xy value or the default.
func (c *TuningConfig) GetOdometryNoiseFactorXY() float64 {
	if c.OdometryNoiseFactorXY == nil {
		return 0.1
	}
	return *c.OdometryNoiseFactorXY
}

// GetOdometryNoiseFactorRot returns the odometry_noise_factor_rot value or the default.
func (c *TuningConfig) GetOdometryNoiseFactorRot() float64 {
	if c.OdometryNoiseFactorRot == nil {
		return 0.1
	}
	return *c.OdometryNoiseFactorRot
}

// GetDefaultPoseDeviationXY returns the default_pose_deviation_xy_mm value or the default.
func (c *TuningConfig) GetDefaultPoseDeviationXY() float64 {
	if c.DefaultPoseDeviationXY == nil {
		return 1000
	}
	return *c.DefaultPoseDeviationXY
}

// GetDefaultPoseDeviationRot returns the default_pose_deviation_rot_rad value or the default.
func (c *TuningConfig) GetDefaultPoseDeviationRot() float64 {
	if c.DefaultPoseDeviationRot == nil {
		return 0.5
	}
	return *c.DefaultPoseDeviationRot
}

// GetCombinedVarianceRotWeight returns the combined_variance_rot_weight value or the default.
func (c *TuningConfig) GetCombinedVarianceRotWeight() float64 {
	if c.CombinedVarianceRotWeight == nil {
		return 1e6 // mm² per rad²
	}
	return *c.CombinedVarianceRotWeight
}

// GetQualitySuperbValidity returns the quality_superb_validity value or the default.
func (c *TuningConfig) GetQualitySuperbValidity() float64 {
	if c.QualitySuperbValidity == nil {
		return 0.8
	}
	return *c.QualitySuperbValidity
}

// GetQualityOkayValidity returns the quality_okay_validity value or the default.
func (c *TuningConfig) GetQualityOkayValidity() float64 {
	if c.QualityOkayValidity == nil {
		return 0.3
	}
	return *c.QualityOkayValidity
}

// GetStarvationPoorFrames returns the starvation_poor_frames value or the default.
func (c *TuningConfig) GetStarvationPoorFrames() int {
	if c.StarvationPoorFrames == nil {
		return 150
	}
	return *c.StarvationPoorFrames
}

// GetOwnHalfSlack returns the own_half_slack_mm value or the default.
func (c *TuningConfig) GetOwnHalfSlack() float64 {
	if c.OwnHalfSlack == nil {
		return 300
	}
	return *c.OwnHalfSlack
}
