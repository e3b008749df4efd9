// Package shock detects demand-relevant disruptions in a product's signal
// series: periods whose volume, rating, sentiment, or peer-relative price
// deviates from a trailing baseline.
package shock

import (
	"context"
	"fmt"
	"math"

	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/stats"
)

// Default detection configuration constants.
const (
	defaultTrailingWindow = 4
	defaultThresholdStd   = 1.5
	defaultRatingDrop     = 0.5
)

// Noise floors per metric. A near-flat trailing window keeps a tiny standard
// deviation, so the std test alone fires on jitter-scale moves; a deviation
// below its metric's floor never counts as a shock regardless of window
// variance. The volume floor is a fraction of the baseline since volume
// scale varies product to product.
const (
	volumeFloorFrac = 0.25
	ratingFloor     = 0.25
	sentimentFloor  = 0.1
	priceFloor      = 0.05
)

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithTrailingWindow sets how many prior emitted periods form the baseline.
func WithTrailingWindow(periods int) Option {
	return func(d *Detector) {
		if periods > 0 {
			d.window = periods
		}
	}
}

// WithThresholdStd sets the deviation threshold in trailing-window standard
// deviations.
func WithThresholdStd(threshold float64) Option {
	return func(d *Detector) {
		if threshold > 0 {
			d.thresholdStd = threshold
		}
	}
}

// WithRatingDropThreshold sets the absolute mean-rating drop that fires a
// rating_decline even when the trailing window has zero variance.
func WithRatingDropThreshold(drop float64) Option {
	return func(d *Detector) {
		if drop > 0 {
			d.ratingDrop = drop
		}
	}
}

type direction int

const (
	downward direction = iota
	either
)

// rule binds a signal metric to the shock type it can raise, with the noise
// floor a deviation must clear: minAbs in metric units, minFrac as a
// fraction of the baseline mean.
type rule struct {
	metric    model.Metric
	shockType model.ShockType
	dir       direction
	minAbs    float64
	minFrac   float64
}

// Scan order is fixed so event order is deterministic within a period.
var rules = []rule{ //nolint:gochecknoglobals // static rule table
	{model.MetricReviewVolume, model.ShockTopicShift, either, 0, volumeFloorFrac},
	{model.MetricMeanRating, model.ShockRatingDecline, downward, ratingFloor, 0},
	{model.MetricSentimentScore, model.ShockNegativeReview, downward, sentimentFloor, 0},
	{model.MetricPriceRelative, model.ShockPriceDeviation, either, priceFloor, 0},
}

// pastFloor reports whether a deviation clears the rule's noise floor.
func (r rule) pastFloor(diff, baseline float64) bool {
	floor := r.minAbs
	if f := r.minFrac * math.Abs(baseline); f > floor {
		floor = f
	}
	return math.Abs(diff) >= floor
}

// Detector scans signal series for trailing-baseline deviations.
type Detector struct {
	window       int
	thresholdStd float64
	ratingDrop   float64
}

// NewDetector creates a detector with configuration options.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		window:       defaultTrailingWindow,
		thresholdStd: defaultThresholdStd,
		ratingDrop:   defaultRatingDrop,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the configured trailing window length.
func (d *Detector) Window() int {
	return d.window
}

// Detect scans one product's signals, which must be sorted by period (the
// aggregator's output order), and emits every deviation past the warm-up
// that clears its metric's noise floor.
// Products with fewer than window+1 emitted periods yield an empty slice,
// not an error. A metric participates in a period only when the current
// value and every trailing-window value are present. Output is deterministic
// for a fixed input: events are ordered by period, then by rule order.
func (d *Detector) Detect(ctx context.Context, productID string, signals []model.ProductPeriodSignal) ([]model.ShockEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("detect %s: %w", productID, err)
	}
	if len(signals) < d.window+1 {
		return nil, nil
	}

	var events []model.ShockEvent
	for i := d.window; i < len(signals); i++ {
		current := signals[i]
		for _, r := range rules {
			observed, ok := current.Value(r.metric)
			if !ok {
				continue
			}
			window, ok := windowValues(signals[i-d.window:i], r.metric)
			if !ok {
				continue
			}
			ev, fired := d.evaluate(r, observed, window)
			if !fired {
				continue
			}
			ev.ID = model.NewShockID(productID, current.Period, r.shockType)
			ev.ProductID = productID
			ev.Period = current.Period
			events = append(events, ev)
		}
	}
	return events, nil
}

// evaluate applies the deviation rules for one metric in one period.
func (d *Detector) evaluate(r rule, observed float64, window []float64) (model.ShockEvent, bool) {
	mean := stats.Mean(window)
	std := stats.SampleStdDev(window)
	diff := observed - mean

	fired := false
	if std > 0 && r.pastFloor(diff, mean) {
		switch r.dir {
		case downward:
			fired = -diff > d.thresholdStd*std
		case either:
			fired = diff > d.thresholdStd*std || -diff > d.thresholdStd*std
		}
	}
	// A flat baseline still registers a hard rating drop.
	if !fired && r.metric == model.MetricMeanRating && -diff >= d.ratingDrop {
		fired = true
	}
	if !fired {
		return model.ShockEvent{}, false
	}

	zscore := 0.0
	if std > 0 {
		zscore = diff / std
	}
	return model.ShockEvent{
		ShockType: r.shockType,
		Metric:    r.metric,
		Observed:  observed,
		Baseline:  mean,
		Magnitude: diff,
		ZScore:    zscore,
	}, true
}

// windowValues extracts a metric over the trailing window; the boolean is
// false when any period lacks the metric.
func windowValues(window []model.ProductPeriodSignal, m model.Metric) ([]float64, bool) {
	values := make([]float64, 0, len(window))
	for _, sig := range window {
		v, ok := sig.Value(m)
		if !ok {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}
