package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/veyra/demandlens/internal/domain/model"
)

// MemoryStore keeps every record and outcome in process memory. It backs
// tests and single-shot runs where no audit trail across runs is needed.
type MemoryStore struct {
	mu        sync.RWMutex
	seen      map[string]struct{}
	records   map[string][]model.ReviewRecord
	segments  map[string]string
	shockSeen map[uuid.UUID]struct{}
	shocks    map[string][]model.ShockEvent
	estimates map[string][]model.SensitivityEstimate
	skips     map[string][]model.EstimateSkip
	labels    map[string][]model.ResilienceLabel
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen:      make(map[string]struct{}),
		records:   make(map[string][]model.ReviewRecord),
		segments:  make(map[string]string),
		shockSeen: make(map[uuid.UUID]struct{}),
		shocks:    make(map[string][]model.ShockEvent),
		estimates: make(map[string][]model.SensitivityEstimate),
		skips:     make(map[string][]model.EstimateSkip),
		labels:    make(map[string][]model.ResilienceLabel),
	}
}

// IngestRecord validates, deduplicates, and appends one record.
func (s *MemoryStore) IngestRecord(_ context.Context, rec model.ReviewRecord) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	key := rec.Key()
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	s.seen[key] = struct{}{}
	s.records[rec.ProductID] = append(s.records[rec.ProductID], rec)

	// First non-empty segment tag wins; feeds carry one segment per product.
	if rec.Segment != "" {
		if _, assigned := s.segments[rec.ProductID]; !assigned {
			s.segments[rec.ProductID] = rec.Segment
		}
	}
	return true, nil
}

// Products returns every product with at least one record, sorted.
func (s *MemoryStore) Products(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	products := make([]string, 0, len(s.records))
	for productID := range s.records {
		products = append(products, productID)
	}
	sort.Strings(products)
	return products, nil
}

// RecordsOf returns a product's records in timestamp order.
func (s *MemoryStore) RecordsOf(_ context.Context, productID string) ([]model.ReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	records, ok := s.records[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	out := make([]model.ReviewRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

// SegmentOf returns the product's segment assignment.
func (s *MemoryStore) SegmentOf(_ context.Context, productID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}

	if _, ok := s.records[productID]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	return s.segments[productID], nil
}

// Segments returns every segment with its sorted member products.
func (s *MemoryStore) Segments(_ context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	segments := make(map[string][]string)
	for productID, segment := range s.segments {
		segments[segment] = append(segments[segment], productID)
	}
	for segment := range segments {
		sort.Strings(segments[segment])
	}
	return segments, nil
}

// SaveShock appends a shock event, ignoring re-detections of the same ID.
func (s *MemoryStore) SaveShock(_ context.Context, ev model.ShockEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, dup := s.shockSeen[ev.ID]; dup {
		return nil
	}
	s.shockSeen[ev.ID] = struct{}{}
	s.shocks[ev.ProductID] = append(s.shocks[ev.ProductID], ev)
	return nil
}

// ShocksOf returns a product's shocks in period order.
func (s *MemoryStore) ShocksOf(_ context.Context, productID string) ([]model.ShockEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]model.ShockEvent, len(s.shocks[productID]))
	copy(out, s.shocks[productID])
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Period.Equal(out[j].Period) {
			return out[i].Period.Before(out[j].Period)
		}
		return out[i].ShockType < out[j].ShockType
	})
	return out, nil
}

// SaveEstimate appends an estimate.
func (s *MemoryStore) SaveEstimate(_ context.Context, est model.SensitivityEstimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.estimates[est.ProductID] = append(s.estimates[est.ProductID], est)
	return nil
}

// EstimatesOf returns a product's full estimate history.
func (s *MemoryStore) EstimatesOf(_ context.Context, productID string) ([]model.SensitivityEstimate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]model.SensitivityEstimate, len(s.estimates[productID]))
	copy(out, s.estimates[productID])
	return out, nil
}

// SaveSkip appends a skip audit record.
func (s *MemoryStore) SaveSkip(_ context.Context, skip model.EstimateSkip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.skips[skip.ProductID] = append(s.skips[skip.ProductID], skip)
	return nil
}

// SkipsOf returns a product's skip history.
func (s *MemoryStore) SkipsOf(_ context.Context, productID string) ([]model.EstimateSkip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]model.EstimateSkip, len(s.skips[productID]))
	copy(out, s.skips[productID])
	return out, nil
}

// SaveLabel appends a resilience label to the product's history.
func (s *MemoryStore) SaveLabel(_ context.Context, label model.ResilienceLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.labels[label.ProductID] = append(s.labels[label.ProductID], label)
	return nil
}

// LabelHistory returns a product's labels oldest-first.
func (s *MemoryStore) LabelHistory(_ context.Context, productID string) ([]model.ResilienceLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]model.ResilienceLabel, len(s.labels[productID]))
	copy(out, s.labels[productID])
	return out, nil
}

// LatestLabels returns each labeled product's newest label, sorted by
// product.
func (s *MemoryStore) LatestLabels(_ context.Context) ([]model.ResilienceLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	products := make([]string, 0, len(s.labels))
	for productID := range s.labels {
		products = append(products, productID)
	}
	sort.Strings(products)

	latest := make([]model.ResilienceLabel, 0, len(products))
	for _, productID := range products {
		history := s.labels[productID]
		if len(history) == 0 {
			continue
		}
		latest = append(latest, history[len(history)-1])
	}
	return latest, nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}
