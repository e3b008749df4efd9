// Package config defines the engine configuration and its loading hooks.
//
// Conventions:
//   - New() builds a Config with defaults; Load(ctx) layers defaults, an
//     optional YAML file, and environment variables on top.
//   - External errors must be wrapped via this package's sentinel errors.
package config

import (
	"fmt"
	"runtime"

	"github.com/veyra/demandlens/internal/adapters/dataset"
	"github.com/veyra/demandlens/internal/domain/period"
	"github.com/veyra/demandlens/internal/domain/sensitivity"
)

// Config contains one batch run's configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// PeriodGranularity selects the aggregation bucket: day, week, month.
	PeriodGranularity string `koanf:"period_granularity"`

	// TrailingWindowPeriods sets the shock detector's baseline window.
	TrailingWindowPeriods int `koanf:"trailing_window_periods"`

	// ShockThresholdStd is the deviation threshold in trailing-window
	// standard deviations.
	ShockThresholdStd float64 `koanf:"shock_threshold_std"`

	// RatingDropThreshold is the absolute mean-rating drop that fires a
	// rating_decline regardless of window variance.
	RatingDropThreshold float64 `koanf:"rating_drop_threshold"`

	// PrePostWindowPeriods sets each side of the estimator's window.
	PrePostWindowPeriods int `koanf:"pre_post_window_periods"`

	// MatchNeighbors caps the matched control group size.
	MatchNeighbors int `koanf:"match_neighbors"`

	// BootstrapResamples sets the confidence-interval resample count.
	BootstrapResamples int `koanf:"bootstrap_resamples"`

	// BootstrapSeed is the base RNG seed; each shock derives its own
	// stream from it.
	BootstrapSeed int64 `koanf:"bootstrap_seed"`

	// TargetMetric names the metric effects are estimated on:
	// review_velocity, mean_rating, or sentiment_score.
	TargetMetric string `koanf:"target_metric"`

	// SmallEffectMax and LargeEffectMin bound the classifier's negligible
	// and hard-drop effect magnitudes.
	SmallEffectMax float64 `koanf:"small_effect_max"`
	LargeEffectMin float64 `koanf:"large_effect_min"`

	// MinLabelEstimates is how many estimates a label rule needs.
	MinLabelEstimates int `koanf:"min_label_estimates"`

	// WorkerCount sets the parallel stage workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the in-memory task queue.
	QueueSize int `koanf:"queue_size"`

	// InputPath and InputFormat locate the record feed (jsonl or csv).
	InputPath   string `koanf:"input_path"`
	InputFormat string `koanf:"input_format"`

	// ProductsPath is the products CSV joined with a csv-format feed for
	// segment and price fallbacks. Optional.
	ProductsPath string `koanf:"products_path"`

	// OutputDir receives the JSONL output files.
	OutputDir string `koanf:"output_dir"`

	// ResultsDB is the SQLite path for audit-grade persistence; empty
	// selects the in-memory store.
	ResultsDB string `koanf:"results_db"`

	// MetricsAddr is the ops listener address (/healthz, /metrics);
	// empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	// EmitSignals and EmitShocks also write the intermediate series.
	EmitSignals bool `koanf:"emit_signals"`
	EmitShocks  bool `koanf:"emit_shocks"`
}

// New creates a Config with engine defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		PeriodGranularity:     string(period.Week),
		TrailingWindowPeriods: 4,
		ShockThresholdStd:     1.5,
		RatingDropThreshold:   0.5,
		PrePostWindowPeriods:  4,
		MatchNeighbors:        5,
		BootstrapResamples:    1000,
		BootstrapSeed:         1,
		TargetMetric:          "review_velocity",
		SmallEffectMax:        0.5,
		LargeEffectMin:        2.0,
		MinLabelEstimates:     2,
		WorkerCount:           runtime.NumCPU(),
		QueueSize:             10_000,
		InputFormat:           string(dataset.FormatJSONL),
		OutputDir:             "out",
	}
}

// Validate checks field ranges and enumerations. Every failure wraps
// ErrInvalidConfig so callers can errors.Is it.
func (c *Config) Validate() error {
	if _, err := period.Parse(c.PeriodGranularity); err != nil {
		return fmt.Errorf("%w: period_granularity: %w", ErrInvalidConfig, err)
	}
	if _, err := sensitivity.ParseTargetMetric(c.TargetMetric); err != nil {
		return fmt.Errorf("%w: target_metric: %w", ErrInvalidConfig, err)
	}
	if _, err := dataset.ParseFormat(c.InputFormat); err != nil {
		return fmt.Errorf("%w: input_format: %w", ErrInvalidConfig, err)
	}
	if c.TrailingWindowPeriods < 1 {
		return fmt.Errorf("%w: trailing_window_periods must be >= 1, got %d", ErrInvalidConfig, c.TrailingWindowPeriods)
	}
	if c.ShockThresholdStd <= 0 {
		return fmt.Errorf("%w: shock_threshold_std must be > 0, got %g", ErrInvalidConfig, c.ShockThresholdStd)
	}
	if c.RatingDropThreshold <= 0 {
		return fmt.Errorf("%w: rating_drop_threshold must be > 0, got %g", ErrInvalidConfig, c.RatingDropThreshold)
	}
	if c.PrePostWindowPeriods < 1 {
		return fmt.Errorf("%w: pre_post_window_periods must be >= 1, got %d", ErrInvalidConfig, c.PrePostWindowPeriods)
	}
	if c.MatchNeighbors < 1 {
		return fmt.Errorf("%w: match_neighbors must be >= 1, got %d", ErrInvalidConfig, c.MatchNeighbors)
	}
	if c.BootstrapResamples < 1 {
		return fmt.Errorf("%w: bootstrap_resamples must be >= 1, got %d", ErrInvalidConfig, c.BootstrapResamples)
	}
	if c.SmallEffectMax <= 0 || c.LargeEffectMin <= 0 {
		return fmt.Errorf("%w: effect thresholds must be > 0", ErrInvalidConfig)
	}
	if c.SmallEffectMax >= c.LargeEffectMin {
		return fmt.Errorf("%w: small_effect_max %g must be below large_effect_min %g",
			ErrInvalidConfig, c.SmallEffectMax, c.LargeEffectMin)
	}
	if c.MinLabelEstimates < 1 {
		return fmt.Errorf("%w: min_label_estimates must be >= 1, got %d", ErrInvalidConfig, c.MinLabelEstimates)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be >= 1, got %d", ErrInvalidConfig, c.WorkerCount)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be >= 1, got %d", ErrInvalidConfig, c.QueueSize)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output_dir must not be empty", ErrInvalidConfig)
	}
	return nil
}
