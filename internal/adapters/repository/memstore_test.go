package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/avisurv/internal/adapters/repository"
	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func metric(station, species string, date time.Time, v float64) model.DailyMetric {
	return model.DailyMetric{
		StationID:       station,
		Species:         species,
		Date:            date,
		DetectionCount:  int(v * 10),
		QualifyingCount: int(v * 10),
		RecordingHours:  10,
		VAR:             &v,
	}
}

func TestMemoryStoreMetrics(t *testing.T) {
	Convey("Given a memory store with three years of week 27", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()

		var ms []model.DailyMetric
		for _, y := range []int{2022, 2023, 2024} {
			ms = append(ms, metric("NL-001", "EURBLA", day(y, time.July, 3), float64(y-2020)))
		}
		ms = append(ms, metric("NL-001", "EURBLA", day(2024, time.January, 10), 9))
		ms = append(ms, metric("NL-002", "EURBLA", day(2024, time.July, 3), 4))
		So(s.PutMetrics(ctx, ms), ShouldBeNil)

		Convey("WeekHistory returns only that week, ordered by date", func() {
			hist, err := s.WeekHistory(ctx, "NL-001", "EURBLA", model.WeekOf(day(2024, time.July, 3)).Week)
			So(err, ShouldBeNil)
			So(hist, ShouldHaveLength, 3)
			So(hist[0].Date, ShouldEqual, day(2022, time.July, 3))
			So(hist[2].Date, ShouldEqual, day(2024, time.July, 3))
		})

		Convey("Upserting the same key and day replaces the metric", func() {
			So(s.PutMetrics(ctx, []model.DailyMetric{metric("NL-001", "EURBLA", day(2024, time.July, 3), 7)}), ShouldBeNil)
			got, err := s.MetricsOn(ctx, day(2024, time.July, 3))
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 2)
			So(got[0].StationID, ShouldEqual, "NL-001")
			So(*got[0].VAR, ShouldEqual, 7)
		})

		Convey("SeriesKeys lists every series in order", func() {
			keys, err := s.SeriesKeys(ctx)
			So(err, ShouldBeNil)
			So(keys, ShouldResemble, []model.Key{
				{StationID: "NL-001", Species: "EURBLA"},
				{StationID: "NL-002", Species: "EURBLA"},
			})
		})

		Convey("A metric without a species is rejected", func() {
			err := s.PutMetrics(ctx, []model.DailyMetric{{StationID: "NL-001"}})
			So(errors.Is(err, repository.ErrInvalidKey), ShouldBeTrue)
		})
	})
}

func TestMemoryStoreBaselines(t *testing.T) {
	Convey("Given a memory store", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()
		key := model.BaselineKey{StationID: "NL-001", Species: "EURBLA", Week: 27}

		Convey("A missing baseline is not found", func() {
			_, err := s.Baseline(ctx, key)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("Publishing twice keeps only the newer snapshot", func() {
			years := []int{2022, 2023}
			first, err := s.PutBaseline(ctx, model.Baseline{Key: key, Mean: 1, StdDev: 0.5, SourceYears: years})
			So(err, ShouldBeNil)
			second, err := s.PutBaseline(ctx, model.Baseline{Key: key, Mean: 2, StdDev: 0.5})
			So(err, ShouldBeNil)
			So(second.Version, ShouldBeGreaterThan, first.Version)

			got, err := s.Baseline(ctx, key)
			So(err, ShouldBeNil)
			So(got.Mean, ShouldEqual, 2)

			Convey("and deleting withdraws it", func() {
				So(s.DeleteBaseline(ctx, key), ShouldBeNil)
				_, err := s.Baseline(ctx, key)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("Stored source years are not aliased", func() {
			years := []int{2022}
			_, err := s.PutBaseline(ctx, model.Baseline{Key: key, SourceYears: years})
			So(err, ShouldBeNil)
			years[0] = 1999
			got, _ := s.Baseline(ctx, key)
			So(got.SourceYears, ShouldResemble, []int{2022})
		})

		Convey("Concurrent readers always see a whole snapshot", func() {
			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						v := float64(i)
						_, _ = s.PutBaseline(ctx, model.Baseline{Key: key, Mean: v, StdDev: v})
					}
				}()
			}
			torn := 0
			for i := 0; i < 500; i++ {
				if b, err := s.Baseline(ctx, key); err == nil && b.Mean != b.StdDev {
					torn++
				}
			}
			wg.Wait()
			So(torn, ShouldEqual, 0)
		})

		Convey("An invalid week is rejected", func() {
			_, err := s.PutBaseline(ctx, model.Baseline{Key: model.BaselineKey{StationID: "NL-001", Species: "EURBLA"}})
			So(errors.Is(err, repository.ErrInvalidKey), ShouldBeTrue)
		})
	})
}

func TestMemoryStoreCommit(t *testing.T) {
	Convey("Given a memory store with an observation limit of 2", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore(repository.WithObservationLimit(2))
		key := model.Key{StationID: "NL-001", Species: "EURBLA"}

		Convey("Committing observations keeps the newest ones", func() {
			for d := 1; d <= 3; d++ {
				obs := model.AnomalyObservation{ID: fmt.Sprint(d), StationID: key.StationID, Species: key.Species, Date: day(2024, time.July, d)}
				So(s.Commit(ctx, repository.Commit{Observation: &obs}), ShouldBeNil)
			}
			got, err := s.Observations(ctx, key, day(2024, time.July, 1), day(2024, time.July, 31))
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 2)
			So(got[0].ID, ShouldEqual, "2")
		})

		Convey("Committing the same day again replaces its observation", func() {
			for _, id := range []string{"first", "second"} {
				obs := model.AnomalyObservation{ID: id, StationID: key.StationID, Species: key.Species, Date: day(2024, time.July, 2)}
				So(s.Commit(ctx, repository.Commit{Observation: &obs}), ShouldBeNil)
			}
			got, err := s.Observations(ctx, key, day(2024, time.July, 1), day(2024, time.July, 31))
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 1)
			So(got[0].ID, ShouldEqual, "second")
		})

		Convey("Committing an outcome stores the state and the alert together", func() {
			a := &model.Alert{ID: "a1", Key: key, Type: model.AlertAnomaly, Severity: model.SeverityWarning, Status: model.AlertActive, TriggeredAt: day(2024, time.July, 1)}
			out := &alerting.Outcome{
				Key:      key,
				Decision: alerting.Decision{Action: alerting.ActionCreate, Severity: model.SeverityWarning},
				State:    alerting.State{Open: true, AlertID: "a1", Severity: model.SeverityWarning},
				Alert:    a,
				Created:  true,
			}
			So(s.Commit(ctx, repository.Commit{Outcome: out}), ShouldBeNil)

			st, err := s.AlertState(ctx, key)
			So(err, ShouldBeNil)
			So(st.AlertID, ShouldEqual, "a1")

			open, err := s.OpenAlerts(ctx)
			So(err, ShouldBeNil)
			So(open, ShouldHaveLength, 1)
			So(open[0].Version, ShouldEqual, uint64(1))

			Convey("and reads return copies", func() {
				got, _ := s.Alert(ctx, "a1")
				got.Severity = model.SeverityCritical
				again, _ := s.Alert(ctx, "a1")
				So(again.Severity, ShouldEqual, model.SeverityWarning)
			})

			Convey("and UpdateAlert bumps the version", func() {
				got, _ := s.Alert(ctx, "a1")
				got.Status = model.AlertResolved
				So(s.UpdateAlert(ctx, got), ShouldBeNil)
				So(got.Version, ShouldEqual, uint64(2))
				open, _ := s.OpenAlerts(ctx)
				So(open, ShouldBeEmpty)
			})
		})

		Convey("Updating an unknown alert is not found", func() {
			err := s.UpdateAlert(ctx, &model.Alert{ID: "missing"})
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("A closed store refuses work", func() {
			So(s.Close(), ShouldBeNil)
			_, err := s.Stations(ctx)
			So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)
		})
	})
}

func TestMemoryStoreStations(t *testing.T) {
	Convey("Given registered stations", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()
		So(s.PutStation(ctx, model.Station{ID: "NL-002", Habitat: "wetland", Active: true}), ShouldBeNil)
		So(s.PutStation(ctx, model.Station{ID: "NL-001", Habitat: "urban", Active: true}), ShouldBeNil)

		Convey("Stations are listed by id", func() {
			all, err := s.Stations(ctx)
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 2)
			So(all[0].ID, ShouldEqual, "NL-001")
		})

		Convey("An unknown station is not found", func() {
			_, err := s.Station(ctx, "NL-999")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("A station without id is rejected", func() {
			So(errors.Is(s.PutStation(ctx, model.Station{}), repository.ErrInvalidKey), ShouldBeTrue)
		})
	})
}
