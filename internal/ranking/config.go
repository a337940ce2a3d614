package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// FieldWeights defines the contribution of each weight tier to the text rank.
type FieldWeights struct {
	D float64 `json:"d"` // Unused tier (default: 0.1)
	C float64 `json:"c"` // Unused tier (default: 0.2)
	B float64 `json:"b"` // Performance level descriptions (default: 0.4)
	A float64 `json:"a"` // Criterion name (default: 1.0)
}

// Weights holds all ranking weight configurations.
type Weights struct {
	Fields FieldWeights `json:"fields"` // Text rank tier weights
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"` // Weight configurations
}

// DefaultWeights returns the default ranking weight configuration. These are
// the Postgres ts_rank defaults, so a name hit counts two and a half times a
// level description hit.
func DefaultWeights() *Weights {
	return &Weights{
		Fields: FieldWeights{
			D: 0.1,
			C: 0.2,
			B: 0.4,
			A: 1.0,
		},
	}
}

// Validate checks that every tier lies in (0, 1].
func (w *Weights) Validate() error {
	tiers := []struct {
		name  string
		value float64
	}{
		{"d", w.Fields.D},
		{"c", w.Fields.C},
		{"b", w.Fields.B},
		{"a", w.Fields.A},
	}
	for _, t := range tiers {
		if t.value <= 0 || t.value > 1 {
			return fmt.Errorf("weight %s must be in (0, 1], got %v", t.name, t.value)
		}
	}
	return nil
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// If the file doesn't exist, can't be parsed or holds out-of-range values,
// it returns default weights with an error.
// Partial configurations are merged with defaults.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	if err := merged.Validate(); err != nil {
		slog.Warn("invalid calibration file, using defaults",
			"path", filePath,
			"error", err)
		return defaults, fmt.Errorf("invalid calibration file: %w", err)
	}
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges override weights with base weights.
// Only non-zero values from the override are applied.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}
	result := *base
	if override == nil {
		return &result
	}

	if override.Fields.D != 0 {
		result.Fields.D = override.Fields.D
	}
	if override.Fields.C != 0 {
		result.Fields.C = override.Fields.C
	}
	if override.Fields.B != 0 {
		result.Fields.B = override.Fields.B
	}
	if override.Fields.A != 0 {
		result.Fields.A = override.Fields.A
	}

	return &result
}

// logCalibrationOverrides logs which weights were overridden from defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string
	check := func(name string, def, got float64) {
		if got != def {
			overrides = append(overrides, fmt.Sprintf("fields.%s: %.2f -> %.2f", name, def, got))
		}
	}
	check("d", defaults.Fields.D, loaded.Fields.D)
	check("c", defaults.Fields.C, loaded.Fields.C)
	check("b", defaults.Fields.B, loaded.Fields.B)
	check("a", defaults.Fields.A, loaded.Fields.A)

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
