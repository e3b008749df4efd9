package model

import (
	"time"

	"github.com/google/uuid"
)

// PeriodWindow is a closed range of period starts.
type PeriodWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ConfidenceInterval is a percentile bootstrap interval around an estimate.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// SensitivityEstimate is one difference-in-differences result for one shock.
// Never mutated after creation: re-runs with other windows or configuration
// append new estimates with fresh IDs.
type SensitivityEstimate struct {
	ID                 uuid.UUID          `json:"id"`
	ProductID          string             `json:"product_id"`
	ShockID            uuid.UUID          `json:"shock_id"`
	TargetMetric       Metric             `json:"target_metric"`
	PrePeriodWindow    PeriodWindow       `json:"pre_period_window"`
	PostPeriodWindow   PeriodWindow       `json:"post_period_window"`
	EstimatedEffect    float64            `json:"estimated_effect"`
	ConfidenceInterval ConfidenceInterval `json:"confidence_interval"`
	ControlGroupIDs    []string           `json:"control_group_ids"`
	ComputedAt         time.Time          `json:"computed_at"`
}

// SkipReason codes why a shock produced no estimate.
type SkipReason string

const (
	// SkipInsufficientControls means fewer than two eligible control
	// products were found.
	SkipInsufficientControls SkipReason = "insufficient_controls"
	// SkipInsufficientWindow means the treated product lacks full metric
	// coverage of the pre and post windows.
	SkipInsufficientWindow SkipReason = "insufficient_window"
	// SkipNoSegment means the product has no segment assignment, so no
	// peer pool exists to draw controls from.
	SkipNoSegment SkipReason = "no_segment"
)

// EstimateSkip is the structured audit outcome for a shock that could not be
// estimated. Skips are recorded, logged, and counted, never silently dropped.
type EstimateSkip struct {
	ProductID  string     `json:"product_id"`
	ShockID    uuid.UUID  `json:"shock_id"`
	Reason     SkipReason `json:"reason"`
	Detail     string     `json:"detail,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}
