// Package synthetic generates deterministic review datasets with injected
// shocks of known size. The end-to-end tests and the gen-reviews tool both
// build their fixtures here so a run's expected effects are never guessed.
package synthetic

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/period"
)

// Default generation constants.
const (
	defaultSeed             = 42
	defaultSegments         = 2
	defaultProductsPer      = 6
	defaultPeriods          = 12
	defaultReviewsPerPeriod = 10

	baseRating    = 4.5
	baseSentiment = 0.6
	basePrice     = 30.0

	ratingJitter    = 0.05
	sentimentJitter = 0.02
	priceJitter     = 0.01
	volumeJitter    = 1
)

// Option applies a configuration option to the Generator.
type Option func(*Generator)

// WithSeed sets the RNG seed; identical seeds produce identical datasets.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.seed = seed
	}
}

// WithSegments sets the number of segments.
func WithSegments(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.segments = n
		}
	}
}

// WithProductsPerSegment sets how many products populate each segment.
func WithProductsPerSegment(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.productsPer = n
		}
	}
}

// WithPeriods sets how many calendar periods of history each product gets.
func WithPeriods(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.periods = n
		}
	}
}

// WithReviewsPerPeriod sets the baseline review volume per period.
func WithReviewsPerPeriod(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.reviewsPerPeriod = n
		}
	}
}

// WithStart sets the first period's start. The default is a fixed Monday so
// datasets are reproducible without configuration.
func WithStart(t time.Time) Option {
	return func(g *Generator) {
		if !t.IsZero() {
			g.start = g.granularity.Truncate(t)
		}
	}
}

// WithGranularity sets the calendar step between generated periods.
func WithGranularity(gr period.Granularity) Option {
	return func(g *Generator) {
		if gr.Valid() {
			g.granularity = gr
			g.start = gr.Truncate(g.start)
		}
	}
}

// WithInjections adds shock scenarios to the dataset.
func WithInjections(injections ...Injection) Option {
	return func(g *Generator) {
		g.injections = append(g.injections, injections...)
	}
}

// Generator produces synthetic review records. Products carry stable
// baselines with small seeded jitter; injections shift the baselines from a
// chosen period onward.
type Generator struct {
	seed             int64
	segments         int
	productsPer      int
	periods          int
	reviewsPerPeriod int
	start            time.Time
	granularity      period.Granularity
	injections       []Injection
}

// NewGenerator creates a generator with configuration options.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		seed:             defaultSeed,
		segments:         defaultSegments,
		productsPer:      defaultProductsPer,
		periods:          defaultPeriods,
		reviewsPerPeriod: defaultReviewsPerPeriod,
		// 2024-01-01 is a Monday, so week truncation is a no-op.
		start:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		granularity: period.Week,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SegmentID returns the deterministic segment name for an index.
func SegmentID(segment int) string {
	return fmt.Sprintf("segment-%02d", segment)
}

// ProductID returns the deterministic product name for a (segment, product)
// index pair.
func ProductID(segment, product int) string {
	return fmt.Sprintf("%s-prod-%02d", SegmentID(segment), product)
}

// PeriodStart returns the start of the n-th generated period.
func (g *Generator) PeriodStart(n int) time.Time {
	return g.granularity.Add(g.start, n)
}

// Generate builds the full dataset. Output order and content depend only on
// the configuration: records are emitted segment by segment, product by
// product, period by period.
func (g *Generator) Generate() []model.ReviewRecord {
	var records []model.ReviewRecord
	for s := 0; s < g.segments; s++ {
		for p := 0; p < g.productsPer; p++ {
			records = append(records, g.productRecords(s, p)...)
		}
	}
	return records
}

// productRecords generates one product's full history with its own RNG
// stream, so adding products never reshuffles existing ones.
func (g *Generator) productRecords(segment, product int) []model.ReviewRecord {
	productID := ProductID(segment, product)
	rng := rand.New(rand.NewSource(g.seed ^ int64(segment*1000+product))) //nolint:gosec // reproducible fixtures

	// Per-product baseline offsets keep peers distinct but stable.
	ratingBase := baseRating + (rng.Float64()-0.5)*0.2
	sentimentBase := baseSentiment + (rng.Float64()-0.5)*0.1
	priceBase := basePrice * (1 + (rng.Float64()-0.5)*0.2)

	var records []model.ReviewRecord
	for n := 0; n < g.periods; n++ {
		shift := g.shiftAt(productID, n)

		volume := g.reviewsPerPeriod + rng.Intn(2*volumeJitter+1) - volumeJitter
		volume = int(math.Round(float64(volume) * shift.volumeFactor))
		if volume < 1 {
			volume = 1
		}

		start := g.PeriodStart(n)
		span := g.granularity.Add(start, 1).Sub(start)
		for r := 0; r < volume; r++ {
			rating := clamp(ratingBase+shift.ratingDelta+(rng.Float64()-0.5)*2*ratingJitter,
				model.MinRating, model.MaxRating)
			sentiment := clamp(sentimentBase+shift.sentimentDelta+(rng.Float64()-0.5)*2*sentimentJitter, -1, 1)
			price := priceBase * shift.priceFactor * (1 + (rng.Float64()-0.5)*2*priceJitter)

			offset := time.Duration(rng.Int63n(int64(span)))
			records = append(records, model.ReviewRecord{
				ProductID:        productID,
				Segment:          SegmentID(segment),
				Timestamp:        start.Add(offset),
				Rating:           math.Round(rating*2) / 2, // half-star scale
				ReviewText:       fmt.Sprintf("synthetic review %s p%d r%d", productID, n, r),
				HelpfulnessVotes: rng.Intn(20),
				PriceAtTime:      &price,
				SentimentScore:   &sentiment,
			})
		}
	}
	return records
}

// shift is the combined injection effect active in one period.
type shift struct {
	ratingDelta    float64
	sentimentDelta float64
	priceFactor    float64
	volumeFactor   float64
}

// shiftAt folds every injection targeting the product that is active at
// period n. Injections are persistent: they apply from their period onward.
func (g *Generator) shiftAt(productID string, n int) shift {
	s := shift{priceFactor: 1, volumeFactor: 1}
	for _, inj := range g.injections {
		if inj.ProductID != productID || n < inj.Period {
			continue
		}
		s.ratingDelta += inj.RatingDelta
		s.sentimentDelta += inj.SentimentDelta
		if inj.PriceFactor > 0 {
			s.priceFactor *= inj.PriceFactor
		}
		if inj.VolumeFactor > 0 {
			s.volumeFactor *= inj.VolumeFactor
		}
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
