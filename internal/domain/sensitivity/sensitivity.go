// Package sensitivity estimates the causal effect of a shock on a product's
// demand proxy with a difference-in-differences design: the shocked product's
// post-vs-pre change compared against matched control products from the same
// segment that stayed shock-free over the same calendar window.
package sensitivity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/period"
	"github.com/veyra/demandlens/internal/domain/stats"
)

// Default estimation configuration constants.
const (
	defaultPrePostWindow  = 4
	defaultMatchNeighbors = 5
	defaultResamples      = 1000
	defaultSeed           = 1
	minEligibleControls   = 2
	confidenceLevel       = 0.95
)

// SignalIndex is the estimator's read view over every product's signals. It
// must be fully materialized and immutable before estimation starts: the
// estimator runs one shock per worker with no locking.
type SignalIndex interface {
	// SignalAt returns the signal for a product at a period start.
	SignalAt(productID string, periodStart time.Time) (model.ProductPeriodSignal, bool)
	// SegmentOf returns the product's segment assignment.
	SegmentOf(productID string) (string, bool)
	// SegmentMembers returns the segment's product IDs in sorted order.
	SegmentMembers(segment string) []string
	// HasShockIn reports whether the product has any shock, of any type,
	// in the closed period range [from, to].
	HasShockIn(productID string, from, to time.Time) bool
}

// Option applies a configuration option to the Estimator.
type Option func(*Estimator)

// WithGranularity sets the calendar step used for window arithmetic; it must
// match the granularity the signals were aggregated at.
func WithGranularity(g period.Granularity) Option {
	return func(e *Estimator) {
		if g.Valid() {
			e.granularity = g
		}
	}
}

// WithPrePostWindow sets how many periods form each side of the shock.
func WithPrePostWindow(periods int) Option {
	return func(e *Estimator) {
		if periods > 0 {
			e.prePostWindow = periods
		}
	}
}

// WithMatchNeighbors sets how many nearest controls are kept.
func WithMatchNeighbors(neighbors int) Option {
	return func(e *Estimator) {
		if neighbors > 0 {
			e.matchNeighbors = neighbors
		}
	}
}

// WithBootstrapResamples sets the bootstrap resample count.
func WithBootstrapResamples(resamples int) Option {
	return func(e *Estimator) {
		if resamples > 0 {
			e.resamples = resamples
		}
	}
}

// WithBootstrapSeed sets the base RNG seed. Each shock derives its own
// stream from this seed and its natural key, so estimates do not depend on
// worker scheduling order.
func WithBootstrapSeed(seed int64) Option {
	return func(e *Estimator) {
		e.seed = seed
	}
}

// WithTargetMetric sets the metric the effect is estimated on.
func WithTargetMetric(m model.Metric) Option {
	return func(e *Estimator) {
		switch m {
		case model.MetricReviewVelocity, model.MetricMeanRating, model.MetricSentimentScore:
			e.targetMetric = m
		}
	}
}

// WithClock injects the clock used for computed_at stamps.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Estimator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// ParseTargetMetric validates a configured target metric name.
func ParseTargetMetric(s string) (model.Metric, error) {
	switch m := model.Metric(s); m {
	case model.MetricReviewVelocity, model.MetricMeanRating, model.MetricSentimentScore:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetric, s)
	}
}

// Estimator computes difference-in-differences estimates for shocks.
type Estimator struct {
	granularity    period.Granularity
	prePostWindow  int
	matchNeighbors int
	resamples      int
	seed           int64
	targetMetric   model.Metric
	clock          clockwork.Clock
}

// NewEstimator creates an estimator with configuration options.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		granularity:    period.Week,
		prePostWindow:  defaultPrePostWindow,
		matchNeighbors: defaultMatchNeighbors,
		resamples:      defaultResamples,
		seed:           defaultSeed,
		targetMetric:   model.MetricReviewVelocity,
		clock:          clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TargetMetric returns the metric effects are estimated on.
func (e *Estimator) TargetMetric() model.Metric {
	return e.targetMetric
}

// Estimate computes the incremental effect of one shock on the target
// metric. The point estimate and interval depend only on the inputs and the
// configuration: re-runs append new estimate rows with fresh IDs but
// identical numbers.
func (e *Estimator) Estimate(ctx context.Context, ev model.ShockEvent, idx SignalIndex) (model.SensitivityEstimate, error) {
	if err := ctx.Err(); err != nil {
		return model.SensitivityEstimate{}, fmt.Errorf("estimate shock %s: %w", ev.ID, err)
	}

	segment, ok := idx.SegmentOf(ev.ProductID)
	if !ok || segment == "" {
		return model.SensitivityEstimate{}, fmt.Errorf("product %s: %w", ev.ProductID, ErrNoSegment)
	}

	pre, post := e.windows(ev.Period)

	treatedPre, ok := seriesOver(idx, ev.ProductID, pre, e.targetMetric)
	if !ok {
		return model.SensitivityEstimate{}, fmt.Errorf(
			"product %s lacks %s over the %d pre periods: %w",
			ev.ProductID, e.targetMetric, len(pre), ErrInsufficientWindow)
	}
	treatedPost, ok := seriesOver(idx, ev.ProductID, post, e.targetMetric)
	if !ok {
		return model.SensitivityEstimate{}, fmt.Errorf(
			"product %s lacks %s over the %d post periods: %w",
			ev.ProductID, e.targetMetric, len(post), ErrInsufficientWindow)
	}
	treatedDelta := stats.Mean(treatedPost) - stats.Mean(treatedPre)

	// The price feature participates only when the treated product carries
	// it across the whole pre window; controls then need it too.
	_, priceFeature := seriesOver(idx, ev.ProductID, pre, model.MetricPriceRelative)
	treatedFeatures := features(idx, ev.ProductID, pre, priceFeature)

	pool := e.eligibleControls(idx, ev.ProductID, segment, pre, post, priceFeature)
	if len(pool) < minEligibleControls {
		return model.SensitivityEstimate{}, fmt.Errorf(
			"segment %s has %d eligible controls for product %s, need %d: %w",
			segment, len(pool), ev.ProductID, minEligibleControls, ErrInsufficientControls)
	}

	matched := nearestNeighbors(pool, treatedFeatures, e.matchNeighbors)

	controlIDs := make([]string, 0, len(matched))
	controlDeltas := make([]float64, 0, len(matched))
	for _, c := range matched {
		controlIDs = append(controlIDs, c.productID)
		controlDeltas = append(controlDeltas, c.delta)
	}

	effect := treatedDelta - stats.Mean(controlDeltas)
	interval := bootstrapInterval(treatedDelta, controlDeltas, e.resamples, deriveSeed(e.seed, ev.Key()))

	return model.SensitivityEstimate{
		ID:                 uuid.New(),
		ProductID:          ev.ProductID,
		ShockID:            ev.ID,
		TargetMetric:       e.targetMetric,
		PrePeriodWindow:    model.PeriodWindow{Start: pre[0], End: pre[len(pre)-1]},
		PostPeriodWindow:   model.PeriodWindow{Start: post[0], End: post[len(post)-1]},
		EstimatedEffect:    effect,
		ConfidenceInterval: interval,
		ControlGroupIDs:    controlIDs,
		ComputedAt:         e.clock.Now().UTC(),
	}, nil
}

// windows returns the period starts on each side of t0: the prePostWindow
// periods strictly before the shock, then the shock period and its
// prePostWindow-1 successors.
func (e *Estimator) windows(t0 time.Time) (pre, post []time.Time) {
	pre = make([]time.Time, 0, e.prePostWindow)
	for i := -e.prePostWindow; i < 0; i++ {
		pre = append(pre, e.granularity.Add(t0, i))
	}
	post = make([]time.Time, 0, e.prePostWindow)
	for i := 0; i < e.prePostWindow; i++ {
		post = append(post, e.granularity.Add(t0, i))
	}
	return pre, post
}

// seriesOver collects a metric across the given periods; false when any
// period lacks a signal or the signal lacks the metric.
func seriesOver(idx SignalIndex, productID string, periods []time.Time, m model.Metric) ([]float64, bool) {
	values := make([]float64, 0, len(periods))
	for _, p := range periods {
		sig, ok := idx.SignalAt(productID, p)
		if !ok {
			return nil, false
		}
		v, ok := sig.Value(m)
		if !ok {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}
