package sensitivity

import (
	"hash/fnv"
	"math/rand"

	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/stats"
)

// deriveSeed mixes the configured base seed with a shock's natural key so
// every shock owns an RNG stream that does not depend on how work was
// scheduled across the pool.
func deriveSeed(base int64, shockKey string) int64 {
	h := fnv.New64a()
	h.Write([]byte(shockKey))      //nolint:errcheck // fnv never fails
	return base ^ int64(h.Sum64()) //nolint:gosec // seed mixing, not crypto
}

// bootstrapInterval computes a percentile bootstrap interval for the effect
// by resampling the matched control set with replacement. The treated delta
// is fixed; only the control average varies across resamples.
func bootstrapInterval(treatedDelta float64, controlDeltas []float64, resamples int, seed int64) model.ConfidenceInterval {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible estimates need a seeded stream

	effects := make([]float64, resamples)
	sample := make([]float64, len(controlDeltas))
	for b := 0; b < resamples; b++ {
		for i := range sample {
			sample[i] = controlDeltas[rng.Intn(len(controlDeltas))]
		}
		effects[b] = treatedDelta - stats.Mean(sample)
	}

	alpha := (1 - confidenceLevel) / 2
	return model.ConfidenceInterval{
		Lower: stats.Percentile(effects, alpha),
		Upper: stats.Percentile(effects, 1-alpha),
		Level: confidenceLevel,
	}
}
