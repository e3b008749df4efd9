package synthetic

// Injection shifts one product's baselines from a period onward. Deltas are
// additive, factors multiplicative; zero-valued factors mean "unchanged".
// VolumeFactor is the known injected demand effect the estimator should
// recover on review velocity.
type Injection struct {
	ProductID      string
	Period         int
	RatingDelta    float64
	SentimentDelta float64
	PriceFactor    float64
	VolumeFactor   float64
}

// RatingDrop drops a product's mean rating by delta and scales its review
// volume from the shock period onward.
func RatingDrop(productID string, periodIdx int, delta, volumeFactor float64) Injection {
	return Injection{
		ProductID:    productID,
		Period:       periodIdx,
		RatingDelta:  -delta,
		VolumeFactor: volumeFactor,
	}
}

// PriceHike scales a product's price and review volume from the shock
// period onward.
func PriceHike(productID string, periodIdx int, priceFactor, volumeFactor float64) Injection {
	return Injection{
		ProductID:    productID,
		Period:       periodIdx,
		PriceFactor:  priceFactor,
		VolumeFactor: volumeFactor,
	}
}

// SentimentSlump drops a product's sentiment score and scales its review
// volume from the shock period onward.
func SentimentSlump(productID string, periodIdx int, delta, volumeFactor float64) Injection {
	return Injection{
		ProductID:      productID,
		Period:         periodIdx,
		SentimentDelta: -delta,
		VolumeFactor:   volumeFactor,
	}
}

// ReviewBurst multiplies a product's review volume from the shock period
// onward without touching rating, sentiment, or price.
func ReviewBurst(productID string, periodIdx int, volumeFactor float64) Injection {
	return Injection{
		ProductID:    productID,
		Period:       periodIdx,
		VolumeFactor: volumeFactor,
	}
}

// RatingDropScenario is the canonical end-to-end fixture: one segment of
// stable peers where a single product's rating collapses mid-history while
// its review volume halves. The shocked product is ProductID(0, 0).
func RatingDropScenario() *Generator {
	return NewGenerator(
		WithSegments(1),
		WithProductsPerSegment(6),
		WithPeriods(12),
		WithReviewsPerPeriod(10),
		WithInjections(RatingDrop(ProductID(0, 0), 7, 1.5, 0.5)),
	)
}
