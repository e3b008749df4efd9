package shock

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/veyra/demandlens/internal/domain/model"
)

func fptr(v float64) *float64 { return &v }

// weekStart returns the Monday of week n in a fixed test calendar.
func weekStart(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7*n)
}

func mkSig(productID string, week, volume int, rating float64) model.ProductPeriodSignal {
	return model.ProductPeriodSignal{
		ProductID:    productID,
		Period:       weekStart(week),
		ReviewVolume: volume,
		MeanRating:   rating,
	}
}

// steadySeries is a calm five-week baseline with slight volume jitter so the
// trailing window keeps a nonzero standard deviation.
func steadySeries(productID string) []model.ProductPeriodSignal {
	return []model.ProductPeriodSignal{
		mkSig(productID, 0, 10, 4.5),
		mkSig(productID, 1, 11, 4.4),
		mkSig(productID, 2, 10, 4.5),
		mkSig(productID, 3, 11, 4.6),
		mkSig(productID, 4, 10, 4.5),
	}
}

func TestDetectWarmup(t *testing.T) {
	Convey("Given a detector with the default window", t, func() {
		ctx := context.Background()
		det := NewDetector()

		Convey("When a product has fewer than window+1 periods", func() {
			short := steadySeries("P1")[:4]
			events, err := det.Detect(ctx, "P1", short)

			Convey("Then it should emit nothing and no error", func() {
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
			})
		})

		Convey("When a product has no periods at all", func() {
			events, err := det.Detect(ctx, "P1", nil)

			So(err, ShouldBeNil)
			So(events, ShouldBeEmpty)
		})

		Convey("When the series is calm", func() {
			events, err := det.Detect(ctx, "P1", steadySeries("P1"))

			So(err, ShouldBeNil)
			So(events, ShouldBeEmpty)
		})

		Convey("When the context is already cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := det.Detect(cancelled, "P1", steadySeries("P1"))

			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestDetectVolumeShocks(t *testing.T) {
	Convey("Given a jittery volume baseline", t, func() {
		ctx := context.Background()
		det := NewDetector()

		Convey("When volume bursts upward", func() {
			series := steadySeries("P1")
			series[4].ReviewVolume = 30
			events, err := det.Detect(ctx, "P1", series)

			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, 1)

			Convey("Then it should be a topic shift at the burst period", func() {
				ev := events[0]
				So(ev.ShockType, ShouldEqual, model.ShockTopicShift)
				So(ev.Metric, ShouldEqual, model.MetricReviewVolume)
				So(ev.Period, ShouldEqual, weekStart(4))
				So(ev.Observed, ShouldEqual, 30)
				So(ev.Baseline, ShouldEqual, 10.5)
				So(ev.Magnitude, ShouldEqual, 19.5)
				So(ev.ZScore, ShouldBeGreaterThan, 0)
			})
		})

		Convey("When volume collapses", func() {
			series := steadySeries("P1")
			series[4].ReviewVolume = 1
			events, err := det.Detect(ctx, "P1", series)

			Convey("Then the shift should fire in the other direction too", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 1)
				So(events[0].ShockType, ShouldEqual, model.ShockTopicShift)
				So(events[0].Magnitude, ShouldBeLessThan, 0)
				So(events[0].ZScore, ShouldBeLessThan, 0)
			})
		})
	})
}

func TestDetectRatingShocks(t *testing.T) {
	Convey("Given rating series", t, func() {
		ctx := context.Background()
		det := NewDetector()

		Convey("When the rating falls past the std threshold", func() {
			series := steadySeries("P1")
			series[4].MeanRating = 3.0
			events, err := det.Detect(ctx, "P1", series)

			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, 1)
			So(events[0].ShockType, ShouldEqual, model.ShockRatingDecline)
			So(events[0].Metric, ShouldEqual, model.MetricMeanRating)
			So(events[0].Magnitude, ShouldBeLessThan, 0)
		})

		Convey("When the baseline is perfectly flat", func() {
			series := []model.ProductPeriodSignal{
				mkSig("P1", 0, 10, 4.5),
				mkSig("P1", 1, 10, 4.5),
				mkSig("P1", 2, 10, 4.5),
				mkSig("P1", 3, 10, 4.5),
				mkSig("P1", 4, 10, 3.9),
			}
			events, err := det.Detect(ctx, "P1", series)

			Convey("Then the absolute drop rule should still fire", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 1)
				So(events[0].ShockType, ShouldEqual, model.ShockRatingDecline)
				So(events[0].ZScore, ShouldEqual, 0)
				So(events[0].Magnitude, ShouldAlmostEqual, -0.6, 1e-9)
			})
		})

		Convey("When the flat-baseline drop stays under the threshold", func() {
			series := []model.ProductPeriodSignal{
				mkSig("P1", 0, 10, 4.5),
				mkSig("P1", 1, 10, 4.5),
				mkSig("P1", 2, 10, 4.5),
				mkSig("P1", 3, 10, 4.5),
				mkSig("P1", 4, 10, 4.1),
			}
			events, err := det.Detect(ctx, "P1", series)

			So(err, ShouldBeNil)
			So(events, ShouldBeEmpty)
		})

		Convey("When the rating rises sharply", func() {
			series := steadySeries("P1")
			series[4].MeanRating = 5.0 // baseline jitter means std > 0
			events, err := det.Detect(ctx, "P1", series)

			Convey("Then no rating shock should fire upward", func() {
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
			})
		})
	})
}

func TestDetectSentimentAndPriceShocks(t *testing.T) {
	Convey("Given series with sentiment and peer prices", t, func() {
		ctx := context.Background()
		det := NewDetector()

		withSentiment := func(values ...float64) []model.ProductPeriodSignal {
			series := steadySeries("P1")
			for i, v := range values {
				series[i].SentimentScore = fptr(v)
			}
			return series
		}

		Convey("When sentiment slumps", func() {
			series := withSentiment(0.5, 0.55, 0.5, 0.45, -0.4)
			events, err := det.Detect(ctx, "P1", series)

			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, 1)
			So(events[0].ShockType, ShouldEqual, model.ShockNegativeReview)
			So(events[0].Metric, ShouldEqual, model.MetricSentimentScore)
		})

		Convey("When sentiment surges", func() {
			series := withSentiment(0.5, 0.55, 0.5, 0.45, 0.95)
			events, err := det.Detect(ctx, "P1", series)

			Convey("Then no negative_review should fire upward", func() {
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
			})
		})

		Convey("When one window period lacks sentiment", func() {
			series := withSentiment(0.5, 0.55, 0.5, 0.45, -0.9)
			series[2].SentimentScore = nil
			events, err := det.Detect(ctx, "P1", series)

			Convey("Then the metric should sit out that period", func() {
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
			})
		})

		Convey("When the relative price jumps", func() {
			series := steadySeries("P1")
			rels := []float64{1.0, 1.02, 0.98, 1.0, 1.5}
			for i := range series {
				series[i].PriceRelative = fptr(rels[i])
			}
			events, err := det.Detect(ctx, "P1", series)

			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, 1)
			So(events[0].ShockType, ShouldEqual, model.ShockPriceDeviation)
			So(events[0].Metric, ShouldEqual, model.MetricPriceRelative)
			So(events[0].Magnitude, ShouldBeGreaterThan, 0)
		})
	})
}

func TestDetectNoiseFloor(t *testing.T) {
	Convey("Given nearly flat series whose jitter still exceeds 1.5 trailing std", t, func() {
		ctx := context.Background()
		det := NewDetector()

		Convey("When volume wobbles at jitter scale", func() {
			series := []model.ProductPeriodSignal{
				mkSig("P1", 0, 20, 4.5),
				mkSig("P1", 1, 21, 4.5),
				mkSig("P1", 2, 20, 4.5),
				mkSig("P1", 3, 21, 4.5),
				mkSig("P1", 4, 23, 4.5),
			}
			events, err := det.Detect(ctx, "P1", series)

			Convey("Then no topic_shift should fire below a quarter of the baseline", func() {
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
			})
		})

		Convey("When the rating drifts a tenth of a star", func() {
			series := []model.ProductPeriodSignal{
				mkSig("P1", 0, 10, 4.50),
				mkSig("P1", 1, 10, 4.52),
				mkSig("P1", 2, 10, 4.50),
				mkSig("P1", 3, 10, 4.48),
				mkSig("P1", 4, 10, 4.38),
			}
			events, err := det.Detect(ctx, "P1", series)

			So(err, ShouldBeNil)
			So(events, ShouldBeEmpty)
		})

		Convey("When sentiment and relative price move at noise scale", func() {
			series := steadySeries("P1")
			sentiments := []float64{0.600, 0.605, 0.600, 0.595, 0.550}
			prices := []float64{1.000, 1.001, 0.999, 1.000, 1.010}
			for i := range series {
				series[i].SentimentScore = fptr(sentiments[i])
				series[i].PriceRelative = fptr(prices[i])
			}
			events, err := det.Detect(ctx, "P1", series)

			So(err, ShouldBeNil)
			So(events, ShouldBeEmpty)
		})

		Convey("When a genuine move clears the floor", func() {
			series := steadySeries("P1")
			prices := []float64{1.000, 1.001, 0.999, 1.000, 1.080}
			for i := range series {
				series[i].PriceRelative = fptr(prices[i])
			}
			events, err := det.Detect(ctx, "P1", series)

			Convey("Then the price deviation should still fire", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 1)
				So(events[0].ShockType, ShouldEqual, model.ShockPriceDeviation)
			})
		})
	})
}

func TestDetectCooccurringShocks(t *testing.T) {
	Convey("Given a period where several metrics deviate at once", t, func() {
		ctx := context.Background()
		det := NewDetector()

		series := steadySeries("P1")
		series[4].ReviewVolume = 30
		series[4].MeanRating = 3.0

		Convey("When detecting", func() {
			events, err := det.Detect(ctx, "P1", series)

			Convey("Then each type should emit its own event sharing the period", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 2)
				So(events[0].ShockType, ShouldEqual, model.ShockTopicShift)
				So(events[1].ShockType, ShouldEqual, model.ShockRatingDecline)
				So(events[0].Period, ShouldEqual, events[1].Period)
				So(events[0].ID, ShouldNotEqual, events[1].ID)
			})
		})
	})
}

func TestDetectDeterminism(t *testing.T) {
	Convey("Given a fixed sorted series", t, func() {
		ctx := context.Background()
		det := NewDetector()

		series := steadySeries("P1")
		series[4].ReviewVolume = 30
		series[4].MeanRating = 3.0

		Convey("When detecting twice", func() {
			first, err1 := det.Detect(ctx, "P1", series)
			second, err2 := det.Detect(ctx, "P1", series)

			Convey("Then results should be identical, IDs included", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(second, ShouldResemble, first)
			})
		})
	})
}

func TestDetectOptions(t *testing.T) {
	Convey("Given detector options", t, func() {
		ctx := context.Background()

		Convey("When the window is shortened", func() {
			det := NewDetector(WithTrailingWindow(2))
			series := []model.ProductPeriodSignal{
				mkSig("P1", 0, 10, 4.5),
				mkSig("P1", 1, 11, 4.5),
				mkSig("P1", 2, 30, 4.5),
			}
			events, err := det.Detect(ctx, "P1", series)

			Convey("Then three periods should already be enough", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 1)
				So(det.Window(), ShouldEqual, 2)
			})
		})

		Convey("When a higher threshold is set", func() {
			det := NewDetector(WithThresholdStd(40))
			series := steadySeries("P1")
			series[4].ReviewVolume = 30
			events, err := det.Detect(ctx, "P1", series)

			So(err, ShouldBeNil)
			So(events, ShouldBeEmpty)
		})

		Convey("When invalid option values are passed", func() {
			det := NewDetector(WithTrailingWindow(0), WithThresholdStd(-1), WithRatingDropThreshold(0))

			Convey("Then defaults should survive", func() {
				So(det.Window(), ShouldEqual, 4)
				So(det.thresholdStd, ShouldEqual, 1.5)
				So(det.ratingDrop, ShouldEqual, 0.5)
			})
		})
	})
}
