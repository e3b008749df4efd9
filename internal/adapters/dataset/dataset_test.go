package dataset

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/veyra/demandlens/internal/domain/model"
)

func TestParseFormat(t *testing.T) {
	Convey("Given the supported format names", t, func() {
		Convey("When parsing them", func() {
			jsonl, jsonlErr := ParseFormat("jsonl")
			csvFmt, csvErr := ParseFormat("csv")

			Convey("Then both resolve", func() {
				So(jsonlErr, ShouldBeNil)
				So(jsonl, ShouldEqual, FormatJSONL)
				So(csvErr, ShouldBeNil)
				So(csvFmt, ShouldEqual, FormatCSV)
			})
		})

		Convey("When parsing an unknown name", func() {
			_, err := ParseFormat("parquet")

			Convey("Then the format is rejected", func() {
				So(errors.Is(err, ErrUnknownFormat), ShouldBeTrue)
			})
		})
	})
}

func TestRecordReader(t *testing.T) {
	Convey("Given a JSON-lines feed with a blank line", t, func() {
		feed := `{"product_id":"P1","segment":"electronics","timestamp":"2024-03-05T10:00:00Z","rating":4.5,"review_text":"sturdy","helpfulness_votes":3,"price_at_time":19.99,"sentiment_score":0.62}

{"product_id":"P2","timestamp":"2024-03-06T08:30:00Z","rating":2}
`

		Convey("When reading it", func() {
			records, err := ReadRecords(strings.NewReader(feed))

			Convey("Then both records come back with their fields", func() {
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 2)

				So(records[0].ProductID, ShouldEqual, "P1")
				So(records[0].Segment, ShouldEqual, "electronics")
				So(records[0].Timestamp, ShouldResemble, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
				So(records[0].Rating, ShouldEqual, 4.5)
				So(records[0].HelpfulnessVotes, ShouldEqual, 3)
				So(records[0].PriceAtTime, ShouldNotBeNil)
				So(*records[0].PriceAtTime, ShouldEqual, 19.99)
				So(records[0].SentimentScore, ShouldNotBeNil)
				So(*records[0].SentimentScore, ShouldEqual, 0.62)

				So(records[1].ProductID, ShouldEqual, "P2")
				So(records[1].Segment, ShouldEqual, "")
				So(records[1].PriceAtTime, ShouldBeNil)
				So(records[1].SentimentScore, ShouldBeNil)
			})
		})
	})

	Convey("Given a feed with broken JSON on the third line", t, func() {
		feed := `{"product_id":"P1","timestamp":"2024-03-05T10:00:00Z","rating":4.5}
{"product_id":"P2","timestamp":"2024-03-06T08:30:00Z","rating":5}
{not json}
`

		Convey("When reading it", func() {
			records, err := ReadRecords(strings.NewReader(feed))

			Convey("Then the error names the line and nothing is returned", func() {
				So(records, ShouldBeNil)
				So(errors.Is(err, model.ErrMalformedRecord), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "line 3")
			})
		})
	})

	Convey("Given a feed whose first record fails validation", t, func() {
		feed := `{"product_id":"P1","timestamp":"2024-03-05T10:00:00Z","rating":9}
`

		Convey("When reading it", func() {
			_, err := ReadRecords(strings.NewReader(feed))

			Convey("Then the validation error carries the line number", func() {
				So(errors.Is(err, model.ErrMalformedRecord), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "line 1")
			})
		})
	})
}

func TestReviewCSVReader(t *testing.T) {
	Convey("Given the scraper's aliased reviews export and a products join", t, func() {
		reviews := `pd_id,submission_time,rating,review_text,helpfulness,sentiment_score
P1,2024-03-05,4.5,sturdy,3,0.62
P2,2024-03-06 08:30:00,2.0,,,
`
		products := `product_id,category,price
P1,electronics,19.99
P2,kitchen,8.5
`

		Convey("When reading all rows", func() {
			reader, err := NewReviewCSVReader(strings.NewReader(reviews), strings.NewReader(products))
			So(err, ShouldBeNil)
			records, err := reader.ReadAll()

			Convey("Then aliases, join fallbacks, and optionals resolve", func() {
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 2)

				So(records[0].ProductID, ShouldEqual, "P1")
				So(records[0].Segment, ShouldEqual, "electronics")
				So(records[0].Timestamp, ShouldResemble, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
				So(records[0].Rating, ShouldEqual, 4.5)
				So(records[0].ReviewText, ShouldEqual, "sturdy")
				So(records[0].HelpfulnessVotes, ShouldEqual, 3)
				So(records[0].SentimentScore, ShouldNotBeNil)
				So(*records[0].SentimentScore, ShouldEqual, 0.62)
				So(records[0].PriceAtTime, ShouldNotBeNil)
				So(*records[0].PriceAtTime, ShouldEqual, 19.99)

				So(records[1].Segment, ShouldEqual, "kitchen")
				So(records[1].Timestamp, ShouldResemble, time.Date(2024, 3, 6, 8, 30, 0, 0, time.UTC))
				So(records[1].SentimentScore, ShouldBeNil)
				So(*records[1].PriceAtTime, ShouldEqual, 8.5)
			})
		})
	})

	Convey("Given a review row that prices itself", t, func() {
		reviews := `pd_id,submission_time,rating,price
P1,2024-03-05,4.5,21.99
`
		products := `product_id,price
P1,5.00
`

		Convey("When reading it", func() {
			reader, err := NewReviewCSVReader(strings.NewReader(reviews), strings.NewReader(products))
			So(err, ShouldBeNil)
			records, err := reader.ReadAll()

			Convey("Then the row's own price beats the join fallback", func() {
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 1)
				So(*records[0].PriceAtTime, ShouldEqual, 21.99)
			})
		})
	})

	Convey("Given a reviews export without a products join", t, func() {
		reviews := `product_id,timestamp,rating,category
P1,2024-03-05,4.5,toys
`

		Convey("When reading it", func() {
			reader, err := NewReviewCSVReader(strings.NewReader(reviews), nil)
			So(err, ShouldBeNil)
			records, err := reader.ReadAll()

			Convey("Then the row's own segment column is used", func() {
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 1)
				So(records[0].Segment, ShouldEqual, "toys")
			})
		})
	})

	Convey("Given a reviews export missing the timestamp column", t, func() {
		reviews := `pd_id,rating
P1,4.5
`

		Convey("When opening it", func() {
			_, err := NewReviewCSVReader(strings.NewReader(reviews), nil)

			Convey("Then the missing column is reported by name", func() {
				So(errors.Is(err, ErrMissingColumn), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "timestamp")
			})
		})
	})

	Convey("Given a review row with an unparsable rating", t, func() {
		reviews := `pd_id,submission_time,rating
P1,2024-03-05,4.5
P2,2024-03-06,terrible
`

		Convey("When reading it", func() {
			reader, err := NewReviewCSVReader(strings.NewReader(reviews), nil)
			So(err, ShouldBeNil)
			_, err = reader.ReadAll()

			Convey("Then the error names the spreadsheet row", func() {
				So(errors.Is(err, model.ErrMalformedRecord), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "row 3")
			})
		})
	})
}

func TestJSONLWriters(t *testing.T) {
	Convey("Given run outputs", t, func() {
		shockID := model.NewShockID("P1", time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), model.ShockRatingDecline)
		estimates := []model.SensitivityEstimate{
			{
				ID:               uuid.New(),
				ProductID:        "P1",
				ShockID:          shockID,
				TargetMetric:     model.MetricReviewVelocity,
				PrePeriodWindow:  model.PeriodWindow{Start: time.Date(2024, 2, 19, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
				PostPeriodWindow: model.PeriodWindow{Start: time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 4, 8, 0, 0, 0, 0, time.UTC)},
				EstimatedEffect:  -2.25,
				ConfidenceInterval: model.ConfidenceInterval{
					Lower: -3.1, Upper: -1.4, Level: 0.95,
				},
				ControlGroupIDs: []string{"C1", "C2", "C3"},
				ComputedAt:      time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC),
			},
		}

		Convey("When writing estimates", func() {
			var buf bytes.Buffer
			err := WriteEstimatesJSONL(&buf, estimates)

			Convey("Then each line is a full document with the output field names", func() {
				So(err, ShouldBeNil)

				lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
				So(lines, ShouldHaveLength, 1)
				So(lines[0], ShouldContainSubstring, `"product_id":"P1"`)
				So(lines[0], ShouldContainSubstring, `"target_metric":"review_velocity"`)
				So(lines[0], ShouldContainSubstring, `"estimated_effect":-2.25`)
				So(lines[0], ShouldContainSubstring, `"control_group_ids":["C1","C2","C3"]`)
				So(lines[0], ShouldContainSubstring, `"level":0.95`)
			})
		})

		Convey("When writing signals with an absent velocity", func() {
			signals := []model.ProductPeriodSignal{{
				ProductID:    "P1",
				Period:       time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
				ReviewVolume: 5,
				MeanRating:   4.2,
			}}

			var buf bytes.Buffer
			err := WriteSignalsJSONL(&buf, signals)

			Convey("Then the absence serializes as an explicit null", func() {
				So(err, ShouldBeNil)
				So(buf.String(), ShouldContainSubstring, `"review_velocity":null`)
				So(buf.String(), ShouldContainSubstring, `"price_relative":null`)
			})
		})

		Convey("When writing labels and skips", func() {
			labels := []model.ResilienceLabel{{
				ProductID:  "P1",
				Label:      model.PriceResilient,
				ComputedAt: time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC),
			}}
			skips := []model.EstimateSkip{{
				ProductID:  "P2",
				ShockID:    shockID,
				Reason:     model.SkipNoSegment,
				RecordedAt: time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC),
			}}

			var labelBuf, skipBuf bytes.Buffer
			labelErr := WriteLabelsJSONL(&labelBuf, labels)
			skipErr := WriteSkipsJSONL(&skipBuf, skips)

			Convey("Then both serialize one document per line", func() {
				So(labelErr, ShouldBeNil)
				So(labelBuf.String(), ShouldContainSubstring, `"label":"price_resilient"`)
				So(skipErr, ShouldBeNil)
				So(skipBuf.String(), ShouldContainSubstring, `"reason":"no_segment"`)
				So(skipBuf.String(), ShouldNotContainSubstring, `"detail"`)
			})
		})
	})
}
