package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("surveillance"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithConstLabels(map[string]string{"region": "nl"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered under the namespace", func() {
				So(m, ShouldNotBeNil)
				m.keysProcessed.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_surveillance_keys_processed_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestRecordHelpers(t *testing.T) {
	Convey("Given a manager installed as global", t, func() {
		m := NewManager(WithPrometheusRegistry(prometheus.NewRegistry()))
		prev := SetGlobal(m)
		defer SetGlobal(prev)

		Convey("When recording surveillance events", func() {
			RecordDailyMetric("excluded")
			RecordDetectionRejected("confidence-out-of-range")
			RecordBaseline("pooled")
			RecordObservation("anomaly", "advisory", 30)
			RecordScoringSkipped("no-baseline")
			RecordAlertTransition("create", "anomaly")
			RecordSchedulingDefect()
			RecordKeyProcessed(0.5)
			UpdateOpenAlerts(2)

			Convey("Then the counters reflect them", func() {
				So(testutil.ToFloat64(m.metricsAggregated.WithLabelValues("excluded")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.detectionsRejected.WithLabelValues("confidence-out-of-range")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.baselinesComputed.WithLabelValues("pooled")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.observations.WithLabelValues("anomaly", "advisory")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.scoringSkipped.WithLabelValues("no-baseline")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.alertTransitions.WithLabelValues("create", "anomaly")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.schedulingDefects), ShouldEqual, 1)
				So(testutil.ToFloat64(m.keysProcessed), ShouldEqual, 1)
				So(testutil.ToFloat64(m.openAlerts), ShouldEqual, 2)
			})
		})
	})
}
