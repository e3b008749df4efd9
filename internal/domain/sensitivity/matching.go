package sensitivity

import (
	"math"
	"sort"
	"time"

	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/stats"
)

// candidate is one eligible control: its matching features and its post-pre
// change on the target metric.
type candidate struct {
	productID string
	features  []float64
	delta     float64
}

// eligibleControls collects the segment peers that can serve as controls for
// the treated product: shock-free across the whole [pre start, post end]
// range, fully covered on the target metric over both windows, and carrying
// every matching feature.
func (e *Estimator) eligibleControls(idx SignalIndex, treatedID, segment string, pre, post []time.Time, priceFeature bool) []candidate {
	rangeStart, rangeEnd := pre[0], post[len(post)-1]

	var pool []candidate
	for _, peer := range idx.SegmentMembers(segment) {
		if peer == treatedID {
			continue
		}
		if idx.HasShockIn(peer, rangeStart, rangeEnd) {
			continue
		}
		preValues, ok := seriesOver(idx, peer, pre, e.targetMetric)
		if !ok {
			continue
		}
		postValues, ok := seriesOver(idx, peer, post, e.targetMetric)
		if !ok {
			continue
		}
		feats := features(idx, peer, pre, priceFeature)
		if feats == nil {
			continue
		}
		pool = append(pool, candidate{
			productID: peer,
			features:  feats,
			delta:     stats.Mean(postValues) - stats.Mean(preValues),
		})
	}
	return pool
}

// features returns the matching feature vector for a product: the pre-window
// mean of mean_rating, preceded by the pre-window mean of price_relative
// when the price feature is in play. Nil when any feature is unavailable.
func features(idx SignalIndex, productID string, pre []time.Time, priceFeature bool) []float64 {
	ratings, ok := seriesOver(idx, productID, pre, model.MetricMeanRating)
	if !ok {
		return nil
	}
	if !priceFeature {
		return []float64{stats.Mean(ratings)}
	}
	prices, ok := seriesOver(idx, productID, pre, model.MetricPriceRelative)
	if !ok {
		return nil
	}
	return []float64{stats.Mean(prices), stats.Mean(ratings)}
}

// nearestNeighbors standardizes features over the pool plus the treated
// product, then keeps the k controls closest to the treated product by
// Euclidean distance. Ties break on product ID so matching is deterministic.
func nearestNeighbors(pool []candidate, treated []float64, k int) []candidate {
	dims := len(treated)

	// Column means and deviations over the pool and the treated product.
	means := make([]float64, dims)
	stds := make([]float64, dims)
	for d := 0; d < dims; d++ {
		column := make([]float64, 0, len(pool)+1)
		for _, c := range pool {
			column = append(column, c.features[d])
		}
		column = append(column, treated[d])
		means[d] = stats.Mean(column)
		stds[d] = stats.SampleStdDev(column)
	}

	scale := func(v float64, d int) float64 {
		if stds[d] == 0 {
			return 0
		}
		return (v - means[d]) / stds[d]
	}

	type scored struct {
		candidate
		distance float64
	}
	ranked := make([]scored, 0, len(pool))
	for _, c := range pool {
		var sum float64
		for d := 0; d < dims; d++ {
			diff := scale(c.features[d], d) - scale(treated[d], d)
			sum += diff * diff
		}
		ranked = append(ranked, scored{candidate: c, distance: math.Sqrt(sum)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].distance != ranked[j].distance {
			return ranked[i].distance < ranked[j].distance
		}
		return ranked[i].productID < ranked[j].productID
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	matched := make([]candidate, 0, k)
	for _, s := range ranked[:k] {
		matched = append(matched, s.candidate)
	}
	return matched
}
