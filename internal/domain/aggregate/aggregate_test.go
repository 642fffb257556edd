package aggregate_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/avisurv/internal/domain/aggregate"
	"github.com/okian/avisurv/internal/domain/dedupe"
	"github.com/okian/avisurv/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	testDay = time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)
	testNow = func() time.Time { return testDay.Add(48 * time.Hour) }
)

func det(id, species string, hour int, conf float64) model.Detection {
	return model.Detection{
		ID:         id,
		StationID:  "NL-001",
		Species:    species,
		Timestamp:  testDay.Add(time.Duration(hour) * time.Hour),
		Confidence: conf,
	}
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()

	Convey("Given an aggregator with species thresholds", t, func() {
		agg := aggregate.New(
			aggregate.WithDefaultThreshold(0.5),
			aggregate.WithSpeciesThresholds(map[string]float64{"eurbla": 0.8}),
			aggregate.WithClock(testNow),
		)

		Convey("When a day has qualifying and non-qualifying detections", func() {
			res, err := agg.Aggregate(ctx, model.DayBatch{
				StationID:      "NL-001",
				Date:           testDay.Add(13 * time.Hour),
				RecordingHours: 4,
				Detections: []model.Detection{
					det("1", "EURBLA", 5, 0.9),
					det("2", "eurbla", 6, 0.8),
					det("3", "EURBLA", 7, 0.79),
					det("4", "GRETIT", 7, 0.6),
				},
			})

			Convey("Then VAR counts only detections at or above the threshold", func() {
				So(err, ShouldBeNil)
				So(res.Metrics, ShouldHaveLength, 2)
				blackbird := res.Metrics[0]
				So(blackbird.Species, ShouldEqual, "EURBLA")
				So(blackbird.Date, ShouldEqual, testDay)
				So(blackbird.DetectionCount, ShouldEqual, 3)
				So(blackbird.QualifyingCount, ShouldEqual, 2)
				So(*blackbird.VAR, ShouldEqual, 0.5)
				So(res.Metrics[1].Species, ShouldEqual, "GRETIT")
				So(*res.Metrics[1].VAR, ShouldEqual, 0.25)
			})
		})

		Convey("When recording time is zero", func() {
			res, err := agg.Aggregate(ctx, model.DayBatch{
				StationID:  "NL-001",
				Date:       testDay,
				Detections: []model.Detection{det("1", "EURBLA", 5, 0.9)},
			})

			Convey("Then the metric is excluded without a VAR", func() {
				So(err, ShouldBeNil)
				So(res.Metrics, ShouldHaveLength, 1)
				So(res.Metrics[0].Excluded, ShouldBeTrue)
				So(res.Metrics[0].ExcludedReason, ShouldEqual, model.ExcludedNoRecordingTime)
				So(res.Metrics[0].VAR, ShouldBeNil)
			})
		})

		Convey("When the batch carries no total but detections carry their window", func() {
			d := det("1", "EURBLA", 5, 0.9)
			d.RecordingHours = 2
			res, err := agg.Aggregate(ctx, model.DayBatch{StationID: "NL-001", Date: testDay, Detections: []model.Detection{d}})

			Convey("Then the window is used as recording time", func() {
				So(err, ShouldBeNil)
				So(*res.Metrics[0].VAR, ShouldEqual, 0.5)
			})
		})

		Convey("When records are defective", func() {
			foreign := det("5", "EURBLA", 5, 0.9)
			foreign.StationID = "NL-999"
			future := det("6", "EURBLA", 5, 0.9)
			future.Timestamp = testDay.AddDate(0, 0, 1)
			res, err := agg.Aggregate(ctx, model.DayBatch{
				StationID:      "NL-001",
				Date:           testDay,
				RecordingHours: 2,
				Detections: []model.Detection{
					det("1", "EURBLA", 5, 1.2),
					det("2", "EURBLA", 5, math.NaN()),
					det("3", " ", 5, 0.9),
					det("4", "EURBLA", 5, 0.9),
					foreign,
					future,
				},
			})

			Convey("Then each is rejected alone and the rest still aggregates", func() {
				So(err, ShouldBeNil)
				So(res.Total, ShouldEqual, 6)
				So(res.Rejections, ShouldHaveLength, 5)
				reasons := map[string]int{}
				for _, r := range res.Rejections {
					reasons[r.Reason]++
				}
				So(reasons[aggregate.ReasonConfidenceRange], ShouldEqual, 2)
				So(reasons[aggregate.ReasonEmptySpecies], ShouldEqual, 1)
				So(reasons[aggregate.ReasonStationMismatch], ShouldEqual, 1)
				So(reasons[aggregate.ReasonTimestampRange], ShouldEqual, 1)
				So(res.RejectionRate(), ShouldAlmostEqual, 5.0/6.0, 1e-12)
				So(res.Metrics, ShouldHaveLength, 1)
				So(res.Metrics[0].QualifyingCount, ShouldEqual, 1)
			})
		})

		Convey("When a detection is replayed within the batch", func() {
			res, err := agg.Aggregate(ctx, model.DayBatch{
				StationID:      "NL-001",
				Date:           testDay,
				RecordingHours: 1,
				Detections:     []model.Detection{det("1", "EURBLA", 5, 0.9), det("1", "EURBLA", 5, 0.9)},
			})

			Convey("Then it is counted once", func() {
				So(err, ShouldBeNil)
				So(res.Duplicates, ShouldEqual, 1)
				So(res.Metrics[0].QualifyingCount, ShouldEqual, 1)
			})
		})

		Convey("When the batch has no station", func() {
			_, err := agg.Aggregate(ctx, model.DayBatch{Date: testDay})

			Convey("Then the batch is invalid", func() {
				So(errors.Is(err, aggregate.ErrInvalidBatch), ShouldBeTrue)
			})
		})
	})

	Convey("Given an aggregator with weather limits", t, func() {
		agg := aggregate.New(aggregate.WithWeatherLimits(10, 12), aggregate.WithClock(testNow))

		Convey("When the day was stormy", func() {
			res, err := agg.Aggregate(ctx, model.DayBatch{
				StationID:      "NL-001",
				Date:           testDay,
				RecordingHours: 6,
				Weather:        &model.Weather{WindSpeedMS: 15},
				Detections:     []model.Detection{det("1", "EURBLA", 5, 0.9)},
			})

			Convey("Then the day is excluded for weather", func() {
				So(err, ShouldBeNil)
				So(res.Metrics[0].Excluded, ShouldBeTrue)
				So(res.Metrics[0].ExcludedReason, ShouldEqual, model.ExcludedWeather)
				So(res.Metrics[0].VAR, ShouldBeNil)
			})
		})
	})
}

func TestAggregateNoRecordingTimeProperty(t *testing.T) {
	Convey("Given random batches without recording time", t, func() {
		agg := aggregate.New(aggregate.WithClock(testNow))
		rng := rand.New(rand.NewSource(7))

		Convey("Then no metric ever carries a VAR", func() {
			for i := 0; i < 200; i++ {
				batch := model.DayBatch{StationID: "NL-001", Date: testDay}
				for j := 0; j < rng.Intn(20); j++ {
					batch.Detections = append(batch.Detections,
						det(fmt.Sprintf("%d-%d", i, j), fmt.Sprintf("SP%d", rng.Intn(4)), rng.Intn(24), rng.Float64()))
				}
				res, err := agg.Aggregate(context.Background(), batch)
				So(err, ShouldBeNil)
				for _, m := range res.Metrics {
					So(m.Excluded, ShouldBeTrue)
					So(m.VAR, ShouldBeNil)
				}
			}
		})
	})

	Convey("Given the same batch aggregated twice", t, func() {
		agg := aggregate.New(aggregate.WithClock(testNow))
		batch := model.DayBatch{
			StationID:      "NL-001",
			Date:           testDay,
			RecordingHours: 3,
			Detections:     []model.Detection{det("1", "EURBLA", 5, 0.9), det("2", "GRETIT", 6, 0.95)},
		}
		first, _ := agg.Aggregate(context.Background(), batch)
		second, _ := agg.Aggregate(context.Background(), batch)

		Convey("Then the metrics are identical", func() {
			So(second.Metrics, ShouldResemble, first.Metrics)
		})
	})
}

func TestAggregateSharedDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given an aggregator sharing a bounded deduper across batches", t, func() {
		agg := aggregate.New(
			aggregate.WithClock(testNow),
			aggregate.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(100))),
		)
		feed := func(station string) model.DayBatch {
			ds := []model.Detection{det("a", "EURBLA", 5, 0.9), det("b", "EURBLA", 6, 0.9)}
			for i := range ds {
				ds[i].StationID = ""
			}
			return model.DayBatch{StationID: station, Date: testDay, RecordingHours: 2, Detections: ds}
		}
		first, err := agg.Aggregate(ctx, feed("NL-001"))
		So(err, ShouldBeNil)

		Convey("When the detections are replayed under another station", func() {
			res, err := agg.Aggregate(ctx, feed("NL-002"))

			Convey("Then they are counted once", func() {
				So(err, ShouldBeNil)
				So(res.Duplicates, ShouldEqual, 2)
				So(res.Metrics, ShouldBeEmpty)
			})
		})

		Convey("When the same batch is aggregated again", func() {
			res, err := agg.Aggregate(ctx, feed("NL-001"))

			Convey("Then it yields the same metrics", func() {
				So(err, ShouldBeNil)
				So(res.Duplicates, ShouldEqual, 0)
				So(res.Metrics, ShouldResemble, first.Metrics)
			})
		})
	})
}

func TestSilent(t *testing.T) {
	Convey("Given an aggregator with weather limits", t, func() {
		agg := aggregate.New(aggregate.WithWeatherLimits(10, 12), aggregate.WithClock(testNow))

		Convey("When an expected species was not heard on a recorded day", func() {
			m := agg.Silent(model.DayBatch{StationID: "NL-001", Date: testDay.Add(9 * time.Hour), RecordingHours: 6}, " eurbla")

			Convey("Then its VAR is zero", func() {
				So(m.Species, ShouldEqual, "EURBLA")
				So(m.Date, ShouldEqual, testDay)
				So(m.Excluded, ShouldBeFalse)
				So(m.VAR, ShouldNotBeNil)
				So(*m.VAR, ShouldEqual, 0.0)
			})
		})

		Convey("When the silent day was stormy", func() {
			m := agg.Silent(model.DayBatch{
				StationID:      "NL-001",
				Date:           testDay,
				RecordingHours: 6,
				Weather:        &model.Weather{PrecipitationMM: 25},
			}, "EURBLA")

			Convey("Then the day is excluded", func() {
				So(m.Excluded, ShouldBeTrue)
				So(m.VAR, ShouldBeNil)
			})
		})
	})
}
