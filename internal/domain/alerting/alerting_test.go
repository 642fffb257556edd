package alerting_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	normal   = model.SeverityNormal
	advisory = model.SeverityAdvisory
	warning  = model.SeverityWarning
	critical = model.SeverityCritical
)

// run feeds severities through Transition and returns the actions taken.
func run(p alerting.Policy, s alerting.State, sevs ...model.Severity) (alerting.State, []alerting.Action) {
	var actions []alerting.Action
	for _, sev := range sevs {
		var d alerting.Decision
		s, d = alerting.Transition(p, s, sev)
		actions = append(actions, d.Action)
	}
	return s, actions
}

func TestTransition(t *testing.T) {
	p := alerting.DefaultPolicy()

	Convey("Given no open alert", t, func() {
		Convey("When a Normal observation arrives", func() {
			s, d := alerting.Transition(p, alerting.State{}, normal)

			Convey("Then nothing happens", func() {
				So(d.Action, ShouldEqual, alerting.ActionNone)
				So(s.Open, ShouldBeFalse)
			})
		})

		Convey("When an Advisory observation arrives", func() {
			s, d := alerting.Transition(p, alerting.State{}, advisory)

			Convey("Then an alert is created at that severity", func() {
				So(d.Action, ShouldEqual, alerting.ActionCreate)
				So(s.Open, ShouldBeTrue)
				So(s.Severity, ShouldEqual, advisory)
			})
		})
	})

	Convey("Given an open Warning alert", t, func() {
		open := alerting.State{Open: true, AlertID: "a1", Severity: warning}

		Convey("When a Critical observation arrives", func() {
			s, d := alerting.Transition(p, open, critical)

			Convey("Then it escalates immediately", func() {
				So(d.Action, ShouldEqual, alerting.ActionEscalate)
				So(s.Severity, ShouldEqual, critical)
				So(s.AlertID, ShouldEqual, "a1")
			})
		})

		Convey("When a single Normal observation follows", func() {
			s, d := alerting.Transition(p, open, normal)

			Convey("Then the alert is not resolved", func() {
				So(d.Action, ShouldEqual, alerting.ActionHold)
				So(s.Open, ShouldBeTrue)
				So(s.NormalStreak, ShouldEqual, 1)
			})
		})

		Convey("When three consecutive Normal observations follow", func() {
			s, actions := run(p, open, normal, normal, normal)

			Convey("Then only the third resolves it", func() {
				So(actions, ShouldResemble, []alerting.Action{alerting.ActionHold, alerting.ActionHold, alerting.ActionResolve})
				So(s, ShouldResemble, alerting.State{})
			})
		})

		Convey("When Normal runs are interrupted", func() {
			s, actions := run(p, open, normal, normal, warning, normal, normal)

			Convey("Then the cooldown restarts", func() {
				So(actions[4], ShouldEqual, alerting.ActionHold)
				So(s.Open, ShouldBeTrue)
				So(s.NormalStreak, ShouldEqual, 2)
			})
		})

		Convey("When a single Advisory observation follows", func() {
			s, d := alerting.Transition(p, open, advisory)

			Convey("Then severity is held", func() {
				So(d.Action, ShouldEqual, alerting.ActionHold)
				So(s.Severity, ShouldEqual, warning)
			})
		})

		Convey("When two Advisory observations follow", func() {
			s, actions := run(p, open, advisory, advisory)

			Convey("Then severity is lowered", func() {
				So(actions[1], ShouldEqual, alerting.ActionDeescalate)
				So(s.Severity, ShouldEqual, advisory)
				So(s.LowerStreak, ShouldEqual, 0)
			})
		})
	})

	Convey("Given an open Critical alert", t, func() {
		open := alerting.State{Open: true, AlertID: "a1", Severity: critical}

		Convey("When Advisory then Warning follow", func() {
			s, actions := run(p, open, advisory, warning)

			Convey("Then it lowers to the highest severity seen in the streak", func() {
				So(actions, ShouldResemble, []alerting.Action{alerting.ActionHold, alerting.ActionDeescalate})
				So(s.Severity, ShouldEqual, warning)
			})
		})

		Convey("When a lower streak is broken by the current severity", func() {
			s, actions := run(p, open, warning, critical, warning)

			Convey("Then de-escalation starts over", func() {
				So(actions, ShouldResemble, []alerting.Action{alerting.ActionHold, alerting.ActionNone, alerting.ActionHold})
				So(s.Severity, ShouldEqual, critical)
			})
		})
	})
}

func TestHysteresisProperty(t *testing.T) {
	Convey("Given random severity sequences", t, func() {
		p := alerting.DefaultPolicy()
		rng := rand.New(rand.NewSource(9))

		Convey("Then resolution always needs the full Normal cooldown", func() {
			for i := 0; i < 500; i++ {
				s := alerting.State{}
				normals := 0
				for j := 0; j < 30; j++ {
					sev := model.Severity(rng.Intn(4))
					wasOpen := s.Open
					var d alerting.Decision
					s, d = alerting.Transition(p, s, sev)
					if sev == normal {
						normals++
					} else {
						normals = 0
					}
					if d.Action == alerting.ActionResolve {
						So(wasOpen, ShouldBeTrue)
						So(normals, ShouldBeGreaterThanOrEqualTo, p.ResolveCooldown)
					}
					if wasOpen && sev > model.SeverityNormal {
						So(s.Open, ShouldBeTrue)
					}
				}
			}
		})
	})
}

type memStore struct {
	states map[model.Key]alerting.State
	alerts map[string]*model.Alert
}

func newMemStore() *memStore {
	return &memStore{states: map[model.Key]alerting.State{}, alerts: map[string]*model.Alert{}}
}

func (m *memStore) AlertState(_ context.Context, k model.Key) (alerting.State, error) {
	s, ok := m.states[k]
	if !ok {
		return alerting.State{}, model.ErrNotFound
	}
	return s, nil
}

func (m *memStore) Alert(_ context.Context, id string) (*model.Alert, error) {
	a, ok := m.alerts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return a.Clone(), nil
}

func (m *memStore) UpdateAlert(_ context.Context, a *model.Alert) error {
	m.alerts[a.ID] = a.Clone()
	return nil
}

func (m *memStore) commit(o alerting.Outcome) {
	m.states[o.Key] = o.State
	if o.Alert != nil {
		m.alerts[o.Alert.ID] = o.Alert.Clone()
	}
}

func TestMachine(t *testing.T) {
	ctx := context.Background()
	key := model.Key{StationID: "S", Species: "EURBLA"}
	day := func(n int) time.Time { return time.Date(2024, 8, n, 0, 0, 0, 0, time.UTC) }
	sig := func(n int, sev model.Severity, typ model.AlertType) alerting.Signal {
		return alerting.Signal{Key: key, Severity: sev, Type: typ, At: day(n), Stations: []string{"S"}, Species: []string{"EURBLA"}}
	}

	Convey("Given a machine over an empty store", t, func() {
		store := newMemStore()
		ids := 0
		m := alerting.NewMachine(store, alerting.WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("alert-%d", ids)
		}))
		apply := func(s alerting.Signal) alerting.Outcome {
			o, err := m.Evaluate(ctx, s)
			So(err, ShouldBeNil)
			store.commit(o)
			return o
		}

		Convey("When an Advisory anomaly arrives", func() {
			o := apply(sig(1, advisory, model.AlertAnomaly))

			Convey("Then an alert is created with the observation time", func() {
				So(o.Created, ShouldBeTrue)
				So(o.Alert.ID, ShouldEqual, "alert-1")
				So(o.Alert.TriggeredAt, ShouldEqual, day(1))
				So(o.Alert.Severity, ShouldEqual, advisory)
				So(o.State.AlertID, ShouldEqual, "alert-1")
			})

			Convey("And it is acknowledged and then escalates as an outbreak", func() {
				_, err := m.Acknowledge(ctx, "alert-1", "vet-on-call", day(1).Add(time.Hour))
				So(err, ShouldBeNil)
				s := sig(2, critical, model.AlertOutbreak)
				s.Stations = []string{"S", "N1", "N2"}
				o := apply(s)

				Convey("Then the same alert escalates in place and keeps the acknowledgement", func() {
					So(o.Created, ShouldBeFalse)
					So(o.Alert.ID, ShouldEqual, "alert-1")
					So(o.Alert.Severity, ShouldEqual, critical)
					So(o.Alert.Type, ShouldEqual, model.AlertOutbreak)
					So(o.Alert.Stations, ShouldResemble, []string{"N1", "N2", "S"})
					So(o.Alert.AcknowledgedBy, ShouldEqual, "vet-on-call")
				})

				Convey("Then a later anomaly-only signal never downgrades the type", func() {
					o := apply(sig(3, critical, model.AlertAnomaly))
					So(o.Alert, ShouldBeNil)
					a, _ := store.Alert(ctx, "alert-1")
					So(a.Type, ShouldEqual, model.AlertOutbreak)
				})
			})

			Convey("And three Normal days follow", func() {
				apply(sig(2, normal, model.AlertAnomaly))
				apply(sig(3, normal, model.AlertAnomaly))
				o := apply(sig(4, normal, model.AlertAnomaly))

				Convey("Then the alert is resolved at the last observation", func() {
					So(o.Decision.Action, ShouldEqual, alerting.ActionResolve)
					So(o.Alert.Status, ShouldEqual, model.AlertResolved)
					So(*o.Alert.ResolvedAt, ShouldEqual, day(4))
					So(o.State.Open, ShouldBeFalse)
				})
			})

			Convey("And the same day or an earlier one is evaluated again", func() {
				_, sameErr := m.Evaluate(ctx, sig(1, normal, model.AlertAnomaly))
				_, earlierErr := m.Evaluate(ctx, sig(0, normal, model.AlertAnomaly))

				Convey("Then both are rejected and the state does not move", func() {
					So(errors.Is(sameErr, alerting.ErrStaleSignal), ShouldBeTrue)
					So(errors.Is(earlierErr, alerting.ErrStaleSignal), ShouldBeTrue)
					st, _ := store.AlertState(ctx, key)
					So(st.NormalStreak, ShouldEqual, 0)
					So(st.LastDate, ShouldEqual, day(1))
				})
			})

			Convey("And a person resolves it", func() {
				a, err := m.Resolve(ctx, "alert-1", "analyst", day(1).Add(2*time.Hour))
				So(err, ShouldBeNil)
				So(a.ResolvedBy, ShouldEqual, "analyst")

				Convey("Then the next qualifying observation opens a new alert", func() {
					o := apply(sig(2, advisory, model.AlertAnomaly))
					So(o.Created, ShouldBeTrue)
					So(o.Alert.ID, ShouldEqual, "alert-2")
				})

				Convey("Then further human operations report it as resolved", func() {
					_, err := m.Acknowledge(ctx, "alert-1", "x", time.Time{})
					So(errors.Is(err, alerting.ErrAlertResolved), ShouldBeTrue)
				})
			})
		})

		Convey("When acknowledging an unknown alert", func() {
			_, err := m.Acknowledge(ctx, "missing", "x", time.Time{})

			Convey("Then it is not found", func() {
				So(errors.Is(err, alerting.ErrAlertNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestSignals(t *testing.T) {
	Convey("Given observations", t, func() {
		Convey("When the observation is a data-quality note", func() {
			_, ok := alerting.SignalFromObservation(model.AnomalyObservation{Kind: model.KindDataQuality}, nil)

			Convey("Then it does not drive the machine", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the observation is an anomaly with neighbors", func() {
			sig, ok := alerting.SignalFromObservation(model.AnomalyObservation{
				Kind: model.KindAnomaly, StationID: "S", Species: "EURBLA", Severity: warning, TypeHint: model.AlertOutbreak,
			}, []string{"N1"})

			Convey("Then the signal carries severity, type and affected stations", func() {
				So(ok, ShouldBeTrue)
				So(sig.Severity, ShouldEqual, warning)
				So(sig.Type, ShouldEqual, model.AlertOutbreak)
				So(sig.Stations, ShouldResemble, []string{"S", "N1"})
			})
		})
	})

	Convey("Given a data-quality policy of 20% with at least 10 records", t, func() {
		p := alerting.DataQualityPolicy{RejectRate: 0.2, MinRecords: 10}
		at := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

		Convey("Then rates are graded into severities", func() {
			_, ok := alerting.DataQualitySignal(p, "S", 5, 9, at)
			So(ok, ShouldBeFalse)
			s, ok := alerting.DataQualitySignal(p, "S", 2, 10, at)
			So(ok, ShouldBeTrue)
			So(s.Severity, ShouldEqual, normal)
			s, _ = alerting.DataQualitySignal(p, "S", 3, 10, at)
			So(s.Severity, ShouldEqual, advisory)
			s, _ = alerting.DataQualitySignal(p, "S", 5, 10, at)
			So(s.Severity, ShouldEqual, warning)
			So(s.Key, ShouldResemble, alerting.DataQualityKey("S"))
			So(s.Type, ShouldEqual, model.AlertDataQuality)
		})
	})
}
