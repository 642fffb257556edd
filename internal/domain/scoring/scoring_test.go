package scoring_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	offPeakDay = time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)
	peakDay    = time.Date(2024, 8, 14, 0, 0, 0, 0, time.UTC)
	fixedNow   = time.Date(2024, 8, 15, 6, 0, 0, 0, time.UTC)
)

func newScorer() *scoring.Scorer {
	return scoring.NewScorer(
		scoring.WithClock(func() time.Time { return fixedNow }),
		scoring.WithIDGenerator(func() string { return "obs-1" }),
	)
}

func dayMetric(date time.Time, v float64) model.DailyMetric {
	return model.DailyMetric{StationID: "S", Species: "EURBLA", Date: date, VAR: &v}
}

func blackbirdBaseline() *model.Baseline {
	return &model.Baseline{
		Key:         model.BaselineKey{StationID: "S", Species: "EURBLA", Week: 20},
		Mean:        3.0,
		StdDev:      0.5,
		SampleCount: 9,
	}
}

func factorNames(o model.AnomalyObservation) []string {
	names := make([]string, 0, len(o.Factors))
	for _, f := range o.Factors {
		names = append(names, f.Name)
	}
	return names
}

func TestScoreScenarios(t *testing.T) {
	Convey("Given station S with a blackbird baseline of mean 3.0 and std 0.5", t, func() {
		s := newScorer()

		Convey("When VAR drops to 1.0 with no spatial or mortality evidence", func() {
			obs, err := s.Score(scoring.Input{Metric: dayMetric(offPeakDay, 1.0), Baseline: blackbirdBaseline()})

			Convey("Then z is 4, only the acoustic term fires and the tier is Advisory", func() {
				So(err, ShouldBeNil)
				So(obs.Kind, ShouldEqual, model.KindAnomaly)
				So(obs.ZScore, ShouldEqual, 4.0)
				So(obs.Score, ShouldEqual, 30)
				So(obs.Severity, ShouldEqual, model.SeverityAdvisory)
				So(factorNames(obs), ShouldResemble, []string{scoring.FactorAcousticDecline})
				So(obs.Factors[0].Detail, ShouldEqual, "z=4.00")
				So(obs.TypeHint, ShouldEqual, model.AlertAnomaly)
				So(obs.ModelVersion, ShouldEqual, "avisurv-composite/v1")
				So(obs.ComputedAt, ShouldEqual, fixedNow)
			})
		})

		Convey("When four neighbors decline and positivity is confirmed in peak season", func() {
			obs, err := s.Score(scoring.Input{
				Metric:             dayMetric(peakDay, 1.0),
				Baseline:           blackbirdBaseline(),
				DecliningNeighbors: 4,
				Mortality:          &model.MortalityContext{Region: "UT", LabTested: 5, LabPositive: 2, ConfirmedDeaths: 2},
			})

			Convey("Then 95 is multiplied by 1.2, capped at 100 and the tier is Critical", func() {
				So(err, ShouldBeNil)
				So(obs.Score, ShouldEqual, 100)
				So(obs.Severity, ShouldEqual, model.SeverityCritical)
				So(factorNames(obs), ShouldResemble, []string{
					scoring.FactorAcousticDecline,
					scoring.FactorSpatialCluster,
					scoring.FactorConfirmedPositivity,
					scoring.FactorPeakSeason,
				})
				So(obs.Factors[3].Points, ShouldEqual, 5)
				So(obs.TypeHint, ShouldEqual, model.AlertOutbreak)
			})
		})

		Convey("When the baseline was pooled from the region", func() {
			b := blackbirdBaseline()
			b.Pooled = true
			b.SampleCount = 3
			b.PooledCount = 12
			obs, err := s.Score(scoring.Input{Metric: dayMetric(offPeakDay, 1.0), Baseline: b})

			Convey("Then scoring proceeds and notes the pooled baseline", func() {
				So(err, ShouldBeNil)
				So(obs.Score, ShouldEqual, 30)
				So(obs.HasFactor(scoring.FactorPooledBaseline), ShouldBeTrue)
			})
		})

		Convey("When the mortality feed failed", func() {
			obs, err := s.Score(scoring.Input{
				Metric:             dayMetric(offPeakDay, 1.0),
				Baseline:           blackbirdBaseline(),
				DecliningNeighbors: 3,
				MortalityErr:       errors.New("feed timeout"),
			})

			Convey("Then only acoustic and spatial terms count and the omission is explicit", func() {
				So(err, ShouldBeNil)
				So(obs.Score, ShouldEqual, 55)
				So(obs.Severity, ShouldEqual, model.SeverityWarning)
				So(obs.HasFactor(scoring.FactorMortalityUnavailable), ShouldBeTrue)
				So(obs.HasFactor(scoring.FactorConfirmedPositivity), ShouldBeFalse)
				So(obs.HasFactor(scoring.FactorUnconfirmedMortality), ShouldBeFalse)
			})
		})
	})
}

func TestScoreEdgeCases(t *testing.T) {
	Convey("Given a scorer", t, func() {
		s := newScorer()

		Convey("When no baseline exists", func() {
			obs, err := s.Score(scoring.Input{Metric: dayMetric(offPeakDay, 0)})

			Convey("Then a data-quality observation is emitted instead of a zero anomaly", func() {
				So(err, ShouldBeNil)
				So(obs.Kind, ShouldEqual, model.KindDataQuality)
				So(obs.HasFactor(scoring.FactorNoBaseline), ShouldBeTrue)
				So(obs.Severity, ShouldEqual, model.SeverityNormal)
			})
		})

		Convey("When the day is excluded", func() {
			m := dayMetric(offPeakDay, 1)
			m.Excluded = true
			m.VAR = nil
			_, err := s.Score(scoring.Input{Metric: m, Baseline: blackbirdBaseline()})

			Convey("Then it is not scored", func() {
				So(errors.Is(err, scoring.ErrExcludedDay), ShouldBeTrue)
			})
		})

		Convey("When unconfirmed deaths exceed the threshold", func() {
			obs, _ := s.Score(scoring.Input{
				Metric:    dayMetric(offPeakDay, 1.0),
				Baseline:  blackbirdBaseline(),
				Mortality: &model.MortalityContext{Region: "GE", UnconfirmedDeaths: 6},
			})

			Convey("Then the smaller epidemiological weight applies", func() {
				So(obs.Score, ShouldEqual, 45)
				So(obs.HasFactor(scoring.FactorUnconfirmedMortality), ShouldBeTrue)
				So(obs.TypeHint, ShouldEqual, model.AlertAnomaly)
			})
		})

		Convey("When unconfirmed deaths only reach the threshold", func() {
			obs, _ := s.Score(scoring.Input{
				Metric:    dayMetric(offPeakDay, 1.0),
				Baseline:  blackbirdBaseline(),
				Mortality: &model.MortalityContext{Region: "GE", UnconfirmedDeaths: 5},
			})

			Convey("Then no epidemiological term fires", func() {
				So(obs.Score, ShouldEqual, 30)
			})
		})

		Convey("When it is peak season but nothing fired", func() {
			obs, _ := s.Score(scoring.Input{Metric: dayMetric(peakDay, 3.0), Baseline: blackbirdBaseline()})

			Convey("Then the multiplier changes nothing and is not recorded", func() {
				So(obs.Score, ShouldEqual, 0)
				So(obs.Factors, ShouldBeEmpty)
				So(obs.Severity, ShouldEqual, model.SeverityNormal)
			})
		})

		Convey("When activity increases", func() {
			obs, _ := s.Score(scoring.Input{Metric: dayMetric(offPeakDay, 5.0), Baseline: blackbirdBaseline()})

			Convey("Then z is negative and no decline is reported", func() {
				So(obs.ZScore, ShouldEqual, -4.0)
				So(obs.Score, ShouldEqual, 0)
			})
		})

		Convey("When the baseline spread was floored", func() {
			b := blackbirdBaseline()
			b.StdFloored = true
			obs, _ := s.Score(scoring.Input{Metric: dayMetric(offPeakDay, 1.0), Baseline: b})

			Convey("Then the factor list says so", func() {
				So(obs.HasFactor(scoring.FactorStdFloored), ShouldBeTrue)
			})
		})

		Convey("When the same input is scored twice", func() {
			in := scoring.Input{Metric: dayMetric(peakDay, 1.2), Baseline: blackbirdBaseline(), DecliningNeighbors: 5}
			a, _ := s.Score(in)
			b, _ := s.Score(in)

			Convey("Then the observations are identical", func() {
				So(b, ShouldResemble, a)
			})
		})
	})
}

func TestSeverityLadder(t *testing.T) {
	Convey("Given the default policy", t, func() {
		p := scoring.DefaultPolicy()

		Convey("Then boundary scores fall into the higher tier", func() {
			So(p.Classify(24.999), ShouldEqual, model.SeverityNormal)
			So(p.Classify(25), ShouldEqual, model.SeverityAdvisory)
			So(p.Classify(49.999), ShouldEqual, model.SeverityAdvisory)
			So(p.Classify(50), ShouldEqual, model.SeverityWarning)
			So(p.Classify(75), ShouldEqual, model.SeverityCritical)
			So(p.Classify(100), ShouldEqual, model.SeverityCritical)
			for i := 0; i < 100; i++ {
				So(p.Classify(50), ShouldEqual, model.SeverityWarning)
			}
		})

		Convey("Then it validates, and a disordered ladder does not", func() {
			So(p.Validate(), ShouldBeNil)
			p.WarningAt = 80
			So(errors.Is(p.Validate(), scoring.ErrInvalidPolicy), ShouldBeTrue)
		})
	})
}

func TestScoreMonotonicInDecline(t *testing.T) {
	Convey("Given fixed baseline, spatial and mortality context", t, func() {
		s := newScorer()
		rng := rand.New(rand.NewSource(5))

		Convey("Then a lower VAR never lowers the score", func() {
			for i := 0; i < 500; i++ {
				b := &model.Baseline{Mean: rng.Float64() * 10, StdDev: 0.01 + rng.Float64()*3}
				neighbors := rng.Intn(6)
				var mc *model.MortalityContext
				if rng.Intn(2) == 0 {
					mc = &model.MortalityContext{UnconfirmedDeaths: rng.Intn(10), LabPositive: rng.Intn(2)}
				}
				day := offPeakDay
				if rng.Intn(2) == 0 {
					day = peakDay
				}
				hi := rng.Float64() * 10
				lo := hi * rng.Float64()
				a, _ := s.Score(scoring.Input{Metric: dayMetric(day, hi), Baseline: b, DecliningNeighbors: neighbors, Mortality: mc})
				c, _ := s.Score(scoring.Input{Metric: dayMetric(day, lo), Baseline: b, DecliningNeighbors: neighbors, Mortality: mc})
				So(c.ZScore, ShouldBeGreaterThanOrEqualTo, a.ZScore)
				So(c.Score, ShouldBeGreaterThanOrEqualTo, a.Score)
				So(c.Score, ShouldBeLessThanOrEqualTo, 100)
			}
		})
	})
}
