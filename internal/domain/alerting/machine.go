package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/avisurv/internal/domain/model"
)

// DataQualitySpecies is the species slot of data-quality alert keys.
const DataQualitySpecies = "data-quality"

const systemActor = "system"

// DataQualityKey returns the alert key used for a station's input quality.
func DataQualityKey(stationID string) model.Key {
	return model.Key{StationID: stationID, Species: DataQualitySpecies}
}

// Signal is one day's input to the machine for a key.
type Signal struct {
	Key      model.Key
	Severity model.Severity
	Type     model.AlertType
	At       time.Time
	Stations []string
	Species  []string
}

// SignalFromObservation converts a scored observation. Data-quality
// observations carry no severity information and return ok=false.
func SignalFromObservation(obs model.AnomalyObservation, neighbors []string) (Signal, bool) {
	if obs.Kind != model.KindAnomaly {
		return Signal{}, false
	}
	typ := obs.TypeHint
	if typ == "" {
		typ = model.AlertAnomaly
	}
	return Signal{
		Key:      obs.Key(),
		Severity: obs.Severity,
		Type:     typ,
		At:       obs.Date,
		Stations: append([]string{obs.StationID}, neighbors...),
		Species:  []string{obs.Species},
	}, true
}

// DataQualityPolicy decides when input defects become an alert.
type DataQualityPolicy struct {
	RejectRate float64
	MinRecords int
}

// DataQualitySignal grades a station's rejection rate for a day. Days with
// fewer than MinRecords records are not judged and return ok=false.
func DataQualitySignal(p DataQualityPolicy, stationID string, rejected, total int, at time.Time) (Signal, bool) {
	if total == 0 || total < p.MinRecords {
		return Signal{}, false
	}
	rate := float64(rejected) / float64(total)
	sev := model.SeverityNormal
	switch {
	case rate > 2*p.RejectRate:
		sev = model.SeverityWarning
	case rate > p.RejectRate:
		sev = model.SeverityAdvisory
	}
	return Signal{
		Key:      DataQualityKey(stationID),
		Severity: sev,
		Type:     model.AlertDataQuality,
		At:       at,
		Stations: []string{stationID},
	}, true
}

// Store is the alert storage the machine reads and, for human operations, writes.
type Store interface {
	AlertState(ctx context.Context, key model.Key) (State, error)
	Alert(ctx context.Context, id string) (*model.Alert, error)
	UpdateAlert(ctx context.Context, a *model.Alert) error
}

// Outcome is the effect of one signal. Alert is nil when nothing must be
// written; Created tells inserts from updates. State must be persisted with
// the alert so the next day continues from it.
type Outcome struct {
	Key      model.Key
	Decision Decision
	State    State
	Alert    *model.Alert
	Created  bool
}

// Machine evaluates signals against stored alert state.
type Machine struct {
	policy Policy
	store  Store
	newID  func() string
	now    func() time.Time
}

// NewMachine creates a Machine.
func NewMachine(store Store, opts ...Option) *Machine {
	m := &Machine{
		policy: DefaultPolicy(),
		store:  store,
		newID:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Evaluate computes the outcome of sig without writing it. Each day is
// applied to a key at most once: a signal dated on or before the last
// applied day fails with ErrStaleSignal.
func (m *Machine) Evaluate(ctx context.Context, sig Signal) (Outcome, error) {
	state, err := m.store.AlertState(ctx, sig.Key)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return Outcome{}, fmt.Errorf("read alert state %s: %w", sig.Key, err)
	}
	day := model.Day(sig.At)
	if !state.LastDate.IsZero() && !day.After(state.LastDate) {
		return Outcome{}, fmt.Errorf("%w: %s on %s, last applied %s", ErrStaleSignal, sig.Key,
			day.Format(time.DateOnly), state.LastDate.Format(time.DateOnly))
	}
	last := state.LastDate

	var current *model.Alert
	if state.Open {
		current, err = m.store.Alert(ctx, state.AlertID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			state = State{LastDate: last}
		case err != nil:
			return Outcome{}, fmt.Errorf("read alert %s: %w", state.AlertID, err)
		case !current.Open():
			// resolved by a person; the next qualifying signal opens a new alert
			state = State{LastDate: last}
			current = nil
		}
	}

	next, d := Transition(m.policy, state, sig.Severity)
	next.LastDate = day
	out := Outcome{Key: sig.Key, Decision: d, State: next}

	switch d.Action {
	case ActionCreate:
		a := &model.Alert{
			ID:          m.newID(),
			Key:         sig.Key,
			Type:        sig.Type,
			Severity:    d.Severity,
			Status:      model.AlertActive,
			TriggeredAt: sig.At,
			UpdatedAt:   sig.At,
		}
		a.AddContext(sig.Stations, sig.Species)
		out.State.AlertID = a.ID
		out.Alert = a
		out.Created = true

	case ActionEscalate:
		a := current.Clone()
		a.Severity = d.Severity
		a.Type = model.MaxAlertType(a.Type, sig.Type)
		a.AddContext(sig.Stations, sig.Species)
		a.UpdatedAt = sig.At
		out.Alert = a

	case ActionDeescalate:
		a := current.Clone()
		a.Severity = d.Severity
		a.UpdatedAt = sig.At
		out.Alert = a

	case ActionResolve:
		a := current.Clone()
		a.Status = model.AlertResolved
		at := sig.At
		a.ResolvedAt = &at
		a.ResolvedBy = systemActor
		a.UpdatedAt = sig.At
		out.Alert = a

	default:
		if current != nil && model.MaxAlertType(current.Type, sig.Type) != current.Type && sig.Severity >= model.SeverityAdvisory {
			a := current.Clone()
			a.Type = sig.Type
			a.UpdatedAt = sig.At
			out.Alert = a
		}
	}
	return out, nil
}

// Acknowledge records that a person has seen the alert. Severity is
// unchanged and later escalation is not blocked. Acknowledging twice keeps
// the first acknowledgement.
func (m *Machine) Acknowledge(ctx context.Context, alertID, by string, at time.Time) (*model.Alert, error) {
	a, err := m.load(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Acknowledged() {
		return a, nil
	}
	a = a.Clone()
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC()
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = by
	a.UpdatedAt = at
	if err := m.store.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("acknowledge alert %s: %w", alertID, err)
	}
	return a, nil
}

// Resolve closes an alert on a person's decision.
func (m *Machine) Resolve(ctx context.Context, alertID, by string, at time.Time) (*model.Alert, error) {
	a, err := m.load(ctx, alertID)
	if err != nil {
		return nil, err
	}
	a = a.Clone()
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC()
	a.Status = model.AlertResolved
	a.ResolvedAt = &at
	a.ResolvedBy = by
	a.UpdatedAt = at
	if err := m.store.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("resolve alert %s: %w", alertID, err)
	}
	return a, nil
}

func (m *Machine) load(ctx context.Context, alertID string) (*model.Alert, error) {
	a, err := m.store.Alert(ctx, alertID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	if err != nil {
		return nil, fmt.Errorf("read alert %s: %w", alertID, err)
	}
	if !a.Open() {
		return nil, fmt.Errorf("%w: %s", ErrAlertResolved, alertID)
	}
	return a, nil
}
