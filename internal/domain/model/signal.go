package model

import "time"

// Metric names a ProductPeriodSignal field that the detector and estimator
// operate on. The string values double as JSON/metric label values.
type Metric string

const (
	MetricReviewVolume   Metric = "review_volume"
	MetricReviewVelocity Metric = "review_velocity"
	MetricMeanRating     Metric = "mean_rating"
	MetricSentimentScore Metric = "sentiment_score"
	MetricPriceRelative  Metric = "price_relative"
)

// ProductPeriodSignal is the derived per-(product, period) aggregate. Period
// is the UTC start of the calendar period. Nullable fields are pointers:
// velocity is null for a product's first emitted period, sentiment when no
// record in the period carries a score, mean price when no record carries a
// positive price, and price_relative until the peer index pass fills it.
type ProductPeriodSignal struct {
	ProductID        string    `json:"product_id"`
	Period           time.Time `json:"period"`
	ReviewVolume     int       `json:"review_volume"`
	ReviewVelocity   *float64  `json:"review_velocity"`
	MeanRating       float64   `json:"mean_rating"`
	RatingDispersion float64   `json:"rating_dispersion"`
	SentimentScore   *float64  `json:"sentiment_score"`
	PriceRelative    *float64  `json:"price_relative"`
	MeanPrice        *float64  `json:"mean_price"`
}

// Value returns the signal's value for the named metric and whether it is
// present. Volume is always present; the pointer metrics are present only
// when non-nil.
func (s ProductPeriodSignal) Value(m Metric) (float64, bool) {
	switch m {
	case MetricReviewVolume:
		return float64(s.ReviewVolume), true
	case MetricReviewVelocity:
		if s.ReviewVelocity == nil {
			return 0, false
		}
		return *s.ReviewVelocity, true
	case MetricMeanRating:
		return s.MeanRating, true
	case MetricSentimentScore:
		if s.SentimentScore == nil {
			return 0, false
		}
		return *s.SentimentScore, true
	case MetricPriceRelative:
		if s.PriceRelative == nil {
			return 0, false
		}
		return *s.PriceRelative, true
	default:
		return 0, false
	}
}
