// Package resilience turns a product's estimate history into a demand
// resilience verdict. Classification is a pure threshold pass over
// (effect, shock type) pairs; ambiguity is an accepted outcome, not an error.
package resilience

import (
	"github.com/jonboulle/clockwork"

	"github.com/veyra/demandlens/internal/domain/model"
)

// Default classification configuration constants.
const (
	defaultSmallEffectMax = 0.5
	defaultLargeEffectMin = 2.0
	defaultMinEstimates   = 2
)

// Option applies a configuration option to the Classifier.
type Option func(*Classifier)

// WithSmallEffectMax sets the largest |effect| still considered negligible.
func WithSmallEffectMax(max float64) Option {
	return func(c *Classifier) {
		if max > 0 {
			c.smallEffectMax = max
		}
	}
}

// WithLargeEffectMin sets the magnitude a negative effect must reach to
// count as a hard demand drop.
func WithLargeEffectMin(min float64) Option {
	return func(c *Classifier) {
		if min > 0 {
			c.largeEffectMin = min
		}
	}
}

// WithMinEstimates sets how many estimates a rule needs before it can match.
func WithMinEstimates(min int) Option {
	return func(c *Classifier) {
		if min > 0 {
			c.minEstimates = min
		}
	}
}

// WithClock injects the clock used for computed_at stamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Classifier) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Observation is one estimate joined with its shock's type. Estimates from
// shocks that co-occurred in the same period feed the aggregate
// independently, one observation each.
type Observation struct {
	Effect    float64
	ShockType model.ShockType
}

// Classifier labels products from their estimate aggregates.
type Classifier struct {
	smallEffectMax float64
	largeEffectMin float64
	minEstimates   int
	clock          clockwork.Clock
}

// NewClassifier creates a classifier with configuration options.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		smallEffectMax: defaultSmallEffectMax,
		largeEffectMin: defaultLargeEffectMin,
		minEstimates:   defaultMinEstimates,
		clock:          clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify evaluates the three label rules over a product's observations.
// Exactly one matching rule yields that label; zero or several matching
// rules withhold the label, which is a valid outcome the caller logs and
// counts. Price shocks are price_deviation events; every other shock type
// reads as a reputation shock.
func (c *Classifier) Classify(productID string, observations []Observation) (model.ResilienceLabel, bool) {
	var price, reputation []float64
	all := make([]float64, 0, len(observations))
	for _, obs := range observations {
		all = append(all, obs.Effect)
		if obs.ShockType == model.ShockPriceDeviation {
			price = append(price, obs.Effect)
		} else {
			reputation = append(reputation, obs.Effect)
		}
	}

	var matches []model.Resilience
	if c.allSmall(all) {
		matches = append(matches, model.PriceResilient)
	}
	if c.allHardDrops(price) {
		matches = append(matches, model.ValueFragile)
	}
	if c.allHardDrops(reputation) {
		matches = append(matches, model.ReputationSensitive)
	}

	if len(matches) != 1 {
		return model.ResilienceLabel{}, false
	}
	return model.ResilienceLabel{
		ProductID:  productID,
		Label:      matches[0],
		ComputedAt: c.clock.Now().UTC(),
	}, true
}

// allSmall reports whether enough effects exist and every one is negligible
// in magnitude.
func (c *Classifier) allSmall(effects []float64) bool {
	if len(effects) < c.minEstimates {
		return false
	}
	for _, e := range effects {
		if e > c.smallEffectMax || e < -c.smallEffectMax {
			return false
		}
	}
	return true
}

// allHardDrops reports whether enough effects exist and every one is a
// large negative move.
func (c *Classifier) allHardDrops(effects []float64) bool {
	if len(effects) < c.minEstimates {
		return false
	}
	for _, e := range effects {
		if e > -c.largeEffectMin {
			return false
		}
	}
	return true
}
