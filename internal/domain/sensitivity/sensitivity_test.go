package sensitivity

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/period"
)

// weekStart returns the Monday of week n in a fixed test calendar.
func weekStart(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7*n)
}

// fakeIndex is a hand-filled SignalIndex for estimator tests.
type fakeIndex struct {
	signals  map[string]map[time.Time]model.ProductPeriodSignal
	segments map[string]string
	shocks   map[string][]time.Time
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		signals:  make(map[string]map[time.Time]model.ProductPeriodSignal),
		segments: make(map[string]string),
		shocks:   make(map[string][]time.Time),
	}
}

// addSeries fills weekly signals for a product starting at week 0, with one
// velocity value per week, a flat rating, and an optional flat price level.
func (f *fakeIndex) addSeries(productID, segment string, velocities []float64, rating float64, priceRel *float64) {
	f.segments[productID] = segment
	if f.signals[productID] == nil {
		f.signals[productID] = make(map[time.Time]model.ProductPeriodSignal)
	}
	for week := range velocities {
		v := velocities[week]
		sig := model.ProductPeriodSignal{
			ProductID:      productID,
			Period:         weekStart(week),
			ReviewVolume:   10,
			ReviewVelocity: &v,
			MeanRating:     rating,
		}
		if priceRel != nil {
			rel := *priceRel
			sig.PriceRelative = &rel
		}
		f.signals[productID][weekStart(week)] = sig
	}
}

func (f *fakeIndex) markShock(productID string, week int) {
	f.shocks[productID] = append(f.shocks[productID], weekStart(week))
}

func (f *fakeIndex) SignalAt(productID string, p time.Time) (model.ProductPeriodSignal, bool) {
	sig, ok := f.signals[productID][p]
	return sig, ok
}

func (f *fakeIndex) SegmentOf(productID string) (string, bool) {
	seg, ok := f.segments[productID]
	return seg, ok
}

func (f *fakeIndex) SegmentMembers(segment string) []string {
	var members []string
	for productID, seg := range f.segments {
		if seg == segment {
			members = append(members, productID)
		}
	}
	sort.Strings(members)
	return members
}

func (f *fakeIndex) HasShockIn(productID string, from, to time.Time) bool {
	for _, p := range f.shocks[productID] {
		if !p.Before(from) && !p.After(to) {
			return true
		}
	}
	return false
}

// shockAt builds the treated product's shock event at the given week.
func shockAt(productID string, week int) model.ShockEvent {
	return model.ShockEvent{
		ID:        model.NewShockID(productID, weekStart(week), model.ShockRatingDecline),
		ProductID: productID,
		Period:    weekStart(week),
		ShockType: model.ShockRatingDecline,
		Metric:    model.MetricMeanRating,
	}
}

func newTestEstimator(opts ...Option) *Estimator {
	base := []Option{
		WithGranularity(period.Week),
		WithPrePostWindow(2),
		WithBootstrapResamples(200),
		WithClock(clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))),
	}
	return NewEstimator(append(base, opts...)...)
}

func TestEstimateDifferenceInDifferences(t *testing.T) {
	Convey("Given a treated product and two calm segment peers", t, func() {
		ctx := context.Background()
		idx := newFakeIndex()
		// Weeks 0-1 are the pre window, weeks 2-3 the post window.
		idx.addSeries("T", "audio", []float64{2, 2, 5, 5}, 4.0, nil)  // delta +3
		idx.addSeries("C1", "audio", []float64{1, 1, 2, 2}, 4.1, nil) // delta +1
		idx.addSeries("C2", "audio", []float64{3, 3, 4, 4}, 3.9, nil) // delta +1
		est := newTestEstimator()

		Convey("When estimating the shock at week 2", func() {
			got, err := est.Estimate(ctx, shockAt("T", 2), idx)

			So(err, ShouldBeNil)

			Convey("Then the effect should be the post-pre change net of controls", func() {
				So(got.EstimatedEffect, ShouldEqual, 2.0) // 3 - mean(1, 1)
			})

			Convey("Then the windows should bracket the shock period", func() {
				So(got.PrePeriodWindow.Start, ShouldEqual, weekStart(0))
				So(got.PrePeriodWindow.End, ShouldEqual, weekStart(1))
				So(got.PostPeriodWindow.Start, ShouldEqual, weekStart(2))
				So(got.PostPeriodWindow.End, ShouldEqual, weekStart(3))
			})

			Convey("Then identical control deltas should collapse the interval", func() {
				So(got.ConfidenceInterval.Lower, ShouldEqual, 2.0)
				So(got.ConfidenceInterval.Upper, ShouldEqual, 2.0)
				So(got.ConfidenceInterval.Level, ShouldEqual, 0.95)
			})

			Convey("Then the estimate should reference the shock and stamp the clock", func() {
				So(got.ShockID, ShouldEqual, shockAt("T", 2).ID)
				So(got.TargetMetric, ShouldEqual, model.MetricReviewVelocity)
				So(got.ComputedAt, ShouldEqual, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
			})

			Convey("Then the treated product should never control for itself", func() {
				So(got.ControlGroupIDs, ShouldHaveLength, 2)
				So(got.ControlGroupIDs, ShouldNotContain, "T")
			})
		})

		Convey("When the context is already cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := est.Estimate(cancelled, shockAt("T", 2), idx)

			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestEstimateEligibility(t *testing.T) {
	Convey("Given control pools of varying quality", t, func() {
		ctx := context.Background()
		est := newTestEstimator()

		Convey("When the product has no segment", func() {
			idx := newFakeIndex()
			idx.addSeries("T", "", []float64{2, 2, 5, 5}, 4.0, nil)
			_, err := est.Estimate(ctx, shockAt("T", 2), idx)

			Convey("Then it should raise the no-segment flavor of the control error", func() {
				So(errors.Is(err, ErrNoSegment), ShouldBeTrue)
				So(errors.Is(err, ErrInsufficientControls), ShouldBeTrue)
			})
		})

		Convey("When only one peer is eligible", func() {
			idx := newFakeIndex()
			idx.addSeries("T", "audio", []float64{2, 2, 5, 5}, 4.0, nil)
			idx.addSeries("C1", "audio", []float64{1, 1, 2, 2}, 4.1, nil)
			_, err := est.Estimate(ctx, shockAt("T", 2), idx)

			So(errors.Is(err, ErrInsufficientControls), ShouldBeTrue)
			So(errors.Is(err, ErrNoSegment), ShouldBeFalse)
		})

		Convey("When a peer had its own shock inside the window", func() {
			idx := newFakeIndex()
			idx.addSeries("T", "audio", []float64{2, 2, 5, 5}, 4.0, nil)
			idx.addSeries("C1", "audio", []float64{1, 1, 2, 2}, 4.1, nil)
			idx.addSeries("C2", "audio", []float64{3, 3, 4, 4}, 3.9, nil)
			idx.addSeries("C3", "audio", []float64{1, 1, 9, 9}, 4.0, nil)
			idx.markShock("C3", 3)
			got, err := est.Estimate(ctx, shockAt("T", 2), idx)

			Convey("Then the shocked peer should be excluded from controls", func() {
				So(err, ShouldBeNil)
				So(got.ControlGroupIDs, ShouldNotContain, "C3")
				So(got.ControlGroupIDs, ShouldHaveLength, 2)
			})
		})

		Convey("When a peer's shock sits outside the window", func() {
			idx := newFakeIndex()
			idx.addSeries("T", "audio", []float64{2, 2, 5, 5, 1}, 4.0, nil)
			idx.addSeries("C1", "audio", []float64{1, 1, 2, 2, 1}, 4.1, nil)
			idx.addSeries("C2", "audio", []float64{3, 3, 4, 4, 1}, 3.9, nil)
			idx.markShock("C2", 4) // post window ends at week 3
			got, err := est.Estimate(ctx, shockAt("T", 2), idx)

			Convey("Then the peer should stay eligible", func() {
				So(err, ShouldBeNil)
				So(got.ControlGroupIDs, ShouldContain, "C2")
			})
		})

		Convey("When a peer misses target coverage in the window", func() {
			idx := newFakeIndex()
			idx.addSeries("T", "audio", []float64{2, 2, 5, 5}, 4.0, nil)
			idx.addSeries("C1", "audio", []float64{1, 1, 2, 2}, 4.1, nil)
			idx.addSeries("C2", "audio", []float64{3, 3, 4, 4}, 3.9, nil)
			idx.addSeries("C3", "audio", []float64{1, 1, 2}, 4.0, nil) // no week-3 signal
			got, err := est.Estimate(ctx, shockAt("T", 2), idx)

			So(err, ShouldBeNil)
			So(got.ControlGroupIDs, ShouldNotContain, "C3")
		})

		Convey("When the treated product misses window coverage", func() {
			idx := newFakeIndex()
			idx.addSeries("T", "audio", []float64{2, 2, 5}, 4.0, nil) // no week-3 signal
			idx.addSeries("C1", "audio", []float64{1, 1, 2, 2}, 4.1, nil)
			idx.addSeries("C2", "audio", []float64{3, 3, 4, 4}, 3.9, nil)
			_, err := est.Estimate(ctx, shockAt("T", 2), idx)

			So(errors.Is(err, ErrInsufficientWindow), ShouldBeTrue)
		})
	})
}

func TestEstimateMatching(t *testing.T) {
	Convey("Given more eligible peers than neighbors", t, func() {
		ctx := context.Background()
		idx := newFakeIndex()
		idx.addSeries("T", "audio", []float64{2, 2, 5, 5}, 4.0, nil)
		// Ratings order peers by distance from the treated 4.0.
		idx.addSeries("C1", "audio", []float64{1, 1, 2, 2}, 4.05, nil)
		idx.addSeries("C2", "audio", []float64{1, 1, 2, 2}, 3.90, nil)
		idx.addSeries("C3", "audio", []float64{1, 1, 2, 2}, 4.20, nil)
		idx.addSeries("C4", "audio", []float64{1, 1, 2, 2}, 3.00, nil)
		idx.addSeries("C5", "audio", []float64{1, 1, 2, 2}, 5.00, nil)

		Convey("When two neighbors are requested", func() {
			est := newTestEstimator(WithMatchNeighbors(2))
			got, err := est.Estimate(ctx, shockAt("T", 2), idx)

			Convey("Then the two closest ratings should be matched", func() {
				So(err, ShouldBeNil)
				So(got.ControlGroupIDs, ShouldResemble, []string{"C1", "C2"})
			})
		})

		Convey("When more neighbors are requested than exist", func() {
			est := newTestEstimator(WithMatchNeighbors(50))
			got, err := est.Estimate(ctx, shockAt("T", 2), idx)

			So(err, ShouldBeNil)
			So(got.ControlGroupIDs, ShouldHaveLength, 5)
		})

		Convey("When two peers are equally distant", func() {
			tie := newFakeIndex()
			tie.addSeries("T", "audio", []float64{2, 2, 5, 5}, 4.0, nil)
			tie.addSeries("CB", "audio", []float64{1, 1, 2, 2}, 4.5, nil)
			tie.addSeries("CA", "audio", []float64{9, 9, 2, 2}, 4.5, nil)
			tie.addSeries("CZ", "audio", []float64{1, 1, 2, 2}, 2.0, nil)
			est := newTestEstimator(WithMatchNeighbors(1))
			got, err := est.Estimate(ctx, shockAt("T", 2), tie)

			Convey("Then product ID should break the tie", func() {
				So(err, ShouldBeNil)
				So(got.ControlGroupIDs, ShouldResemble, []string{"CA"})
			})
		})
	})

	Convey("Given price features", t, func() {
		ctx := context.Background()
		rel := 1.1
		est := newTestEstimator()

		Convey("When the treated product carries price_relative", func() {
			idx := newFakeIndex()
			idx.addSeries("T", "audio", []float64{2, 2, 5, 5}, 4.0, &rel)
			idx.addSeries("C1", "audio", []float64{1, 1, 2, 2}, 4.1, &rel)
			idx.addSeries("C2", "audio", []float64{3, 3, 4, 4}, 3.9, &rel)
			idx.addSeries("C3", "audio", []float64{3, 3, 4, 4}, 4.0, nil) // no price data
			got, err := est.Estimate(ctx, shockAt("T", 2), idx)

			Convey("Then peers without price data should be excluded", func() {
				So(err, ShouldBeNil)
				So(got.ControlGroupIDs, ShouldNotContain, "C3")
				So(got.ControlGroupIDs, ShouldHaveLength, 2)
			})
		})

		Convey("When the treated product lacks price_relative", func() {
			idx := newFakeIndex()
			idx.addSeries("T", "audio", []float64{2, 2, 5, 5}, 4.0, nil)
			idx.addSeries("C1", "audio", []float64{1, 1, 2, 2}, 4.1, &rel)
			idx.addSeries("C2", "audio", []float64{3, 3, 4, 4}, 3.9, nil)
			got, err := est.Estimate(ctx, shockAt("T", 2), idx)

			Convey("Then the price feature should drop out entirely", func() {
				So(err, ShouldBeNil)
				So(got.ControlGroupIDs, ShouldHaveLength, 2)
			})
		})
	})
}

func TestEstimateDeterminism(t *testing.T) {
	Convey("Given controls with spread-out deltas", t, func() {
		ctx := context.Background()
		idx := newFakeIndex()
		idx.addSeries("T", "audio", []float64{2, 2, 5, 5}, 4.0, nil)
		idx.addSeries("C1", "audio", []float64{1, 1, 2, 2}, 4.1, nil) // delta 1
		idx.addSeries("C2", "audio", []float64{3, 3, 5, 5}, 3.9, nil) // delta 2
		idx.addSeries("C3", "audio", []float64{2, 2, 2, 2}, 4.2, nil) // delta 0

		Convey("When estimating the same shock twice", func() {
			est := newTestEstimator()
			first, err1 := est.Estimate(ctx, shockAt("T", 2), idx)
			second, err2 := est.Estimate(ctx, shockAt("T", 2), idx)

			Convey("Then the numbers should be identical, only IDs fresh", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(second.EstimatedEffect, ShouldEqual, first.EstimatedEffect)
				So(second.ConfidenceInterval, ShouldResemble, first.ConfidenceInterval)
				So(second.ControlGroupIDs, ShouldResemble, first.ControlGroupIDs)
				So(second.ID, ShouldNotEqual, first.ID)
			})
		})

		Convey("When estimating two different shocks", func() {
			est := newTestEstimator()
			a, errA := est.Estimate(ctx, shockAt("T", 2), idx)

			other := shockAt("T", 2)
			other.ShockType = model.ShockTopicShift
			other.ID = model.NewShockID("T", weekStart(2), model.ShockTopicShift)
			b, errB := est.Estimate(ctx, other, idx)

			Convey("Then each shock should own its RNG stream", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(b.EstimatedEffect, ShouldEqual, a.EstimatedEffect)
				// Separate streams may land on different resamples, but the
				// interval must still bracket the point estimate.
				So(a.ConfidenceInterval.Lower, ShouldBeLessThanOrEqualTo, a.EstimatedEffect)
				So(a.ConfidenceInterval.Upper, ShouldBeGreaterThanOrEqualTo, a.EstimatedEffect)
				So(b.ConfidenceInterval.Lower, ShouldBeLessThanOrEqualTo, b.EstimatedEffect)
				So(b.ConfidenceInterval.Upper, ShouldBeGreaterThanOrEqualTo, b.EstimatedEffect)
			})
		})

		Convey("When the interval brackets spread-out controls", func() {
			est := newTestEstimator()
			got, err := est.Estimate(ctx, shockAt("T", 2), idx)

			Convey("Then the interval should have nonzero width", func() {
				So(err, ShouldBeNil)
				So(got.ConfidenceInterval.Lower, ShouldBeLessThan, got.ConfidenceInterval.Upper)
			})
		})
	})
}

func TestParseTargetMetric(t *testing.T) {
	Convey("Given target metric names", t, func() {
		Convey("When parsing estimable metrics", func() {
			for _, s := range []string{"review_velocity", "mean_rating", "sentiment_score"} {
				m, err := ParseTargetMetric(s)

				So(err, ShouldBeNil)
				So(string(m), ShouldEqual, s)
			}
		})

		Convey("When parsing a non-estimable metric", func() {
			_, err := ParseTargetMetric("review_volume")

			So(errors.Is(err, ErrUnsupportedMetric), ShouldBeTrue)
		})
	})
}

func TestSkipReasonFor(t *testing.T) {
	Convey("Given estimation errors", t, func() {
		Convey("When mapping known skip errors", func() {
			reason, ok := SkipReasonFor(ErrNoSegment)
			So(ok, ShouldBeTrue)
			So(reason, ShouldEqual, model.SkipNoSegment)

			reason, ok = SkipReasonFor(ErrInsufficientControls)
			So(ok, ShouldBeTrue)
			So(reason, ShouldEqual, model.SkipInsufficientControls)

			reason, ok = SkipReasonFor(ErrInsufficientWindow)
			So(ok, ShouldBeTrue)
			So(reason, ShouldEqual, model.SkipInsufficientWindow)
		})

		Convey("When mapping wrapped skip errors", func() {
			err := errors.Join(errors.New("outer"), ErrInsufficientWindow)
			reason, ok := SkipReasonFor(err)

			So(ok, ShouldBeTrue)
			So(reason, ShouldEqual, model.SkipInsufficientWindow)
		})

		Convey("When mapping an unknown error", func() {
			_, ok := SkipReasonFor(errors.New("disk on fire"))

			So(ok, ShouldBeFalse)
		})
	})
}
