// Package repository defines the review record store, the append-only
// outcome persistence, and the immutable read indexes built between batch
// stages.
package repository

import (
	"context"

	"github.com/veyra/demandlens/internal/domain/model"
)

// Store provides validated record ingestion and append-only access to every
// computed outcome. Implementations must be safe for concurrent use: the
// batch stages write shocks, estimates, and skips from pooled workers.
type Store interface {
	// IngestRecord validates, deduplicates, and appends one record.
	// Returns false with no error when the record was already ingested;
	// malformed records wrap model.ErrMalformedRecord.
	IngestRecord(ctx context.Context, rec model.ReviewRecord) (bool, error)

	// Products returns every product with at least one record, sorted.
	Products(ctx context.Context) ([]string, error)

	// RecordsOf returns a product's records in timestamp order.
	// Returns ErrNotFound for a product with no records.
	RecordsOf(ctx context.Context, productID string) ([]model.ReviewRecord, error)

	// SegmentOf returns the product's segment assignment; empty when the
	// product has records but no segment tag.
	SegmentOf(ctx context.Context, productID string) (string, error)

	// Segments returns every segment with its sorted member products.
	Segments(ctx context.Context) (map[string][]string, error)

	// SaveShock appends a shock event. Re-detection of the same natural
	// key converges on the same deterministic ID and is ignored.
	SaveShock(ctx context.Context, ev model.ShockEvent) error

	// ShocksOf returns a product's shocks in period order.
	ShocksOf(ctx context.Context, productID string) ([]model.ShockEvent, error)

	// SaveEstimate appends an estimate; prior estimates are never mutated.
	SaveEstimate(ctx context.Context, est model.SensitivityEstimate) error

	// EstimatesOf returns a product's full estimate history.
	EstimatesOf(ctx context.Context, productID string) ([]model.SensitivityEstimate, error)

	// SaveSkip appends the audit record for a shock that produced no
	// estimate.
	SaveSkip(ctx context.Context, skip model.EstimateSkip) error

	// SkipsOf returns a product's skip history.
	SkipsOf(ctx context.Context, productID string) ([]model.EstimateSkip, error)

	// SaveLabel appends a resilience label. Labels supersede, never
	// overwrite: history is retained.
	SaveLabel(ctx context.Context, label model.ResilienceLabel) error

	// LabelHistory returns a product's labels oldest-first.
	LabelHistory(ctx context.Context, productID string) ([]model.ResilienceLabel, error)

	// LatestLabels returns each labeled product's newest label, sorted by
	// product.
	LatestLabels(ctx context.Context) ([]model.ResilienceLabel, error)

	// Close releases the store. Further calls return ErrClosed.
	Close() error
}
