package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ShockType classifies the perception or price disruption behind a shock.
type ShockType string

const (
	// ShockNegativeReview fires on a downward sentiment deviation.
	ShockNegativeReview ShockType = "negative_review"
	// ShockRatingDecline fires on a downward rating deviation or an
	// absolute rating drop past the configured threshold.
	ShockRatingDecline ShockType = "rating_decline"
	// ShockTopicShift fires on a review-volume deviation in either
	// direction (attention bursts and collapses both shift the topic mix).
	ShockTopicShift ShockType = "topic_shift"
	// ShockPriceDeviation fires on a price_relative deviation in either
	// direction.
	ShockPriceDeviation ShockType = "price_deviation"
)

// ShockTypes lists every shock type in a stable order.
func ShockTypes() []ShockType {
	return []ShockType{ShockNegativeReview, ShockRatingDecline, ShockTopicShift, ShockPriceDeviation}
}

// ShockEvent marks one period where a product's signal deviated from its
// trailing baseline. Read-only once created; many may exist per product and
// several types may share a period.
type ShockEvent struct {
	ID        uuid.UUID `json:"id"`
	ProductID string    `json:"product_id"`
	Period    time.Time `json:"period"`
	ShockType ShockType `json:"shock_type"`
	Metric    Metric    `json:"metric"`
	Observed  float64   `json:"observed"`
	Baseline  float64   `json:"baseline"`
	Magnitude float64   `json:"magnitude"`
	ZScore    float64   `json:"zscore"`
}

// ShockKey is the natural identity of a shock: one product, one period, one
// type. Detection re-runs converge on the same key.
func ShockKey(productID string, periodStart time.Time, t ShockType) string {
	return fmt.Sprintf("%s|%s|%s", productID, periodStart.UTC().Format(time.RFC3339), t)
}

// NewShockID derives the deterministic UUID for a shock's natural key, so
// estimates reference the same shock identity across runs.
func NewShockID(productID string, periodStart time.Time, t ShockType) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(ShockKey(productID, periodStart, t)))
}

// Key returns the shock's natural key.
func (s ShockEvent) Key() string {
	return ShockKey(s.ProductID, s.Period, s.ShockType)
}
