// Package signal rolls one product's review records into per-period demand
// signals. Aggregation is pure and per-product; the peer-relative price pass
// runs separately once every product's periods are known.
package signal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/period"
	"github.com/veyra/demandlens/internal/domain/stats"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithGranularity sets the calendar bucket size (default week).
func WithGranularity(g period.Granularity) Option {
	return func(a *Aggregator) {
		if g.Valid() {
			a.granularity = g
		}
	}
}

// Aggregator buckets records into calendar periods and derives the
// per-period signal metrics.
type Aggregator struct {
	granularity period.Granularity
}

// NewAggregator creates an aggregator with configuration options.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		granularity: period.Week,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Granularity returns the configured calendar bucket size.
func (a *Aggregator) Granularity() period.Granularity {
	return a.granularity
}

// Aggregate produces one ProductPeriodSignal per calendar period present in
// the records, sorted by period. Periods with zero records are absent, never
// zero-filled: velocity denominators count the calendar distance between
// emitted periods instead. Calling with zero records returns an error
// wrapping ErrInsufficientData.
func (a *Aggregator) Aggregate(ctx context.Context, productID string, records []model.ReviewRecord) ([]model.ProductPeriodSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", productID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: product %s has no records", ErrInsufficientData, productID)
	}

	buckets := make(map[time.Time][]model.ReviewRecord)
	for _, rec := range records {
		start := a.granularity.Truncate(rec.Timestamp)
		buckets[start] = append(buckets[start], rec)
	}

	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	signals := make([]model.ProductPeriodSignal, 0, len(starts))
	for _, start := range starts {
		signals = append(signals, a.bucketSignal(productID, start, buckets[start]))
	}

	// Velocity is a finite difference over emitted periods: null for the
	// first, Δvolume over the calendar distance after that.
	for i := 1; i < len(signals); i++ {
		steps := a.granularity.StepsBetween(signals[i-1].Period, signals[i].Period)
		if steps <= 0 {
			continue
		}
		v := float64(signals[i].ReviewVolume-signals[i-1].ReviewVolume) / float64(steps)
		signals[i].ReviewVelocity = &v
	}

	return signals, nil
}

func (a *Aggregator) bucketSignal(productID string, start time.Time, records []model.ReviewRecord) model.ProductPeriodSignal {
	ratings := make([]float64, 0, len(records))
	sentiments := make([]float64, 0, len(records))
	prices := make([]float64, 0, len(records))
	for _, rec := range records {
		ratings = append(ratings, rec.Rating)
		if rec.SentimentScore != nil {
			sentiments = append(sentiments, *rec.SentimentScore)
		}
		if rec.PriceAtTime != nil && *rec.PriceAtTime > 0 {
			prices = append(prices, *rec.PriceAtTime)
		}
	}

	sig := model.ProductPeriodSignal{
		ProductID:        productID,
		Period:           start,
		ReviewVolume:     len(records),
		MeanRating:       stats.Mean(ratings),
		RatingDispersion: stats.PopStdDev(ratings),
	}
	if len(sentiments) > 0 {
		s := stats.Mean(sentiments)
		sig.SentimentScore = &s
	}
	if len(prices) > 0 {
		p := stats.Mean(prices)
		sig.MeanPrice = &p
	}
	return sig
}

// MedianPriceFn resolves the peer median price for a (segment, period); the
// boolean reports whether any peer price exists for that cell.
type MedianPriceFn func(segment string, periodStart time.Time) (float64, bool)

// FillPriceRelative backfills price_relative = mean_price ÷ segment median
// on each signal. Signals keep a null price_relative when the product has no
// segment, the period has no peer median, or the signal has no mean price.
func FillPriceRelative(signals []model.ProductPeriodSignal, segment string, medianPrice MedianPriceFn) {
	if segment == "" || medianPrice == nil {
		return
	}
	for i := range signals {
		if signals[i].MeanPrice == nil {
			continue
		}
		median, ok := medianPrice(segment, signals[i].Period)
		if !ok || median <= 0 {
			continue
		}
		rel := *signals[i].MeanPrice / median
		signals[i].PriceRelative = &rel
	}
}
