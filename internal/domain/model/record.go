// Package model contains domain records passed between layers: raw review
// records, per-period signals, shock events, sensitivity estimates, and
// resilience labels. Field names mirror the JSONL output schema.
package model

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Rating bounds accepted at ingestion.
const (
	MinRating = 1
	MaxRating = 5
)

// ReviewRecord is one review/rating/price observation for a product.
// Segment and SentimentScore are tags attached upstream (segmentation and
// NLP collaborators). Immutable once ingested; owned by the record store.
type ReviewRecord struct {
	ProductID        string    `json:"product_id"`
	Segment          string    `json:"segment,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Rating           float64   `json:"rating"`
	ReviewText       string    `json:"review_text,omitempty"`
	HelpfulnessVotes int       `json:"helpfulness_votes,omitempty"`
	PriceAtTime      *float64  `json:"price_at_time,omitempty"`
	SentimentScore   *float64  `json:"sentiment_score,omitempty"`
}

// Validate reports whether the record can be ingested. Malformed records
// wrap ErrMalformedRecord with the failing field; upstream correction is
// required, so callers report and never retry.
func (r ReviewRecord) Validate() error {
	if r.ProductID == "" {
		return fmt.Errorf("%w: missing product_id", ErrMalformedRecord)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp for product %s", ErrMalformedRecord, r.ProductID)
	}
	if r.Rating < MinRating || r.Rating > MaxRating {
		return fmt.Errorf("%w: rating %.2f outside [%d,%d] for product %s",
			ErrMalformedRecord, r.Rating, MinRating, MaxRating, r.ProductID)
	}
	return nil
}

// Key returns the idempotency key used for ingestion dedupe: identical
// (product, timestamp, rating, review text) observations collapse to one.
func (r ReviewRecord) Key() string {
	h := fnv.New64a()
	h.Write([]byte(r.ReviewText)) //nolint:errcheck // fnv never fails
	return fmt.Sprintf("%s|%d|%g|%x", r.ProductID, r.Timestamp.UTC().UnixNano(), r.Rating, h.Sum64())
}
