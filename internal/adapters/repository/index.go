package repository

import (
	"sort"
	"time"

	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/stats"
)

// SignalIndex is an immutable read model over one run's aggregated signals,
// segment assignments, and detected shocks. It is built once after the
// detection stage and shared by the estimation workers without locking.
//
// Periods are keyed by their UTC unix second so that lookups are independent
// of the time.Location carried by callers' values.
type SignalIndex struct {
	signals  map[string]map[int64]model.ProductPeriodSignal
	segments map[string]string
	members  map[string][]string
	shocks   map[string][]int64
}

// NewSignalIndex builds an index from per-product signal series, segment
// assignments, and the run's shock events.
func NewSignalIndex(
	signalsByProduct map[string][]model.ProductPeriodSignal,
	segmentByProduct map[string]string,
	shocks []model.ShockEvent,
) *SignalIndex {
	idx := &SignalIndex{
		signals:  make(map[string]map[int64]model.ProductPeriodSignal, len(signalsByProduct)),
		segments: make(map[string]string, len(segmentByProduct)),
		members:  make(map[string][]string),
		shocks:   make(map[string][]int64),
	}

	for productID, series := range signalsByProduct {
		byPeriod := make(map[int64]model.ProductPeriodSignal, len(series))
		for _, sig := range series {
			byPeriod[sig.Period.UTC().Unix()] = sig
		}
		idx.signals[productID] = byPeriod
	}

	for productID, segment := range segmentByProduct {
		if segment == "" {
			continue
		}
		idx.segments[productID] = segment
		idx.members[segment] = append(idx.members[segment], productID)
	}
	for _, ids := range idx.members {
		sort.Strings(ids)
	}

	for _, ev := range shocks {
		idx.shocks[ev.ProductID] = append(idx.shocks[ev.ProductID], ev.Period.UTC().Unix())
	}
	for _, periods := range idx.shocks {
		sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
	}

	return idx
}

// SignalAt returns the signal for a product at a period start.
func (idx *SignalIndex) SignalAt(productID string, periodStart time.Time) (model.ProductPeriodSignal, bool) {
	sig, ok := idx.signals[productID][periodStart.UTC().Unix()]
	return sig, ok
}

// SegmentOf returns the product's segment assignment.
func (idx *SignalIndex) SegmentOf(productID string) (string, bool) {
	segment, ok := idx.segments[productID]
	return segment, ok
}

// SegmentMembers returns the segment's product IDs in sorted order.
func (idx *SignalIndex) SegmentMembers(segment string) []string {
	ids := idx.members[segment]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// HasShockIn reports whether the product has any shock, of any type, in the
// closed period range [from, to].
func (idx *SignalIndex) HasShockIn(productID string, from, to time.Time) bool {
	periods := idx.shocks[productID]
	if len(periods) == 0 {
		return false
	}
	lo := from.UTC().Unix()
	hi := to.UTC().Unix()
	i := sort.Search(len(periods), func(i int) bool { return periods[i] >= lo })
	return i < len(periods) && periods[i] <= hi
}

// PriceIndex resolves per-segment median prices by period. It backs the
// price-relative fill between aggregation and detection.
type PriceIndex struct {
	medians map[string]map[int64]float64
}

// BuildPriceIndex computes, for every (segment, period) cell, the median of
// the mean prices observed across the segment's products. Products without a
// segment or without price data contribute nothing.
func BuildPriceIndex(
	signalsByProduct map[string][]model.ProductPeriodSignal,
	segmentByProduct map[string]string,
) *PriceIndex {
	cells := make(map[string]map[int64][]float64)
	for productID, series := range signalsByProduct {
		segment := segmentByProduct[productID]
		if segment == "" {
			continue
		}
		byPeriod := cells[segment]
		if byPeriod == nil {
			byPeriod = make(map[int64][]float64)
			cells[segment] = byPeriod
		}
		for _, sig := range series {
			if sig.MeanPrice == nil {
				continue
			}
			key := sig.Period.UTC().Unix()
			byPeriod[key] = append(byPeriod[key], *sig.MeanPrice)
		}
	}

	idx := &PriceIndex{medians: make(map[string]map[int64]float64, len(cells))}
	for segment, byPeriod := range cells {
		medians := make(map[int64]float64, len(byPeriod))
		for key, prices := range byPeriod {
			medians[key] = stats.Median(prices)
		}
		idx.medians[segment] = medians
	}
	return idx
}

// Median returns the segment's median price for the period, if any product
// in the segment priced it. It satisfies signal.MedianPriceFn.
func (idx *PriceIndex) Median(segment string, periodStart time.Time) (float64, bool) {
	median, ok := idx.medians[segment][periodStart.UTC().Unix()]
	return median, ok
}
