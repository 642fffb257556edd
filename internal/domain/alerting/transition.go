// Package alerting owns the alert lifecycle: creation, escalation, damped
// de-escalation, acknowledgement and resolution.
package alerting

import (
	"time"

	"github.com/okian/avisurv/internal/domain/model"
)

const (
	defaultDeescalationCount = 2
	defaultResolveCooldown   = 3
)

// Policy holds the hysteresis counts.
type Policy struct {
	// DeescalationCount is how many consecutive lower, still qualifying
	// observations are needed before severity is lowered.
	DeescalationCount int
	// ResolveCooldown is how many consecutive Normal observations resolve an alert.
	ResolveCooldown int
}

// DefaultPolicy returns the reference hysteresis.
func DefaultPolicy() Policy {
	return Policy{DeescalationCount: defaultDeescalationCount, ResolveCooldown: defaultResolveCooldown}
}

// State is the per-key hysteresis state carried from one day to the next.
type State struct {
	Open            bool
	AlertID         string
	Severity        model.Severity
	PendingSeverity model.Severity // highest severity seen during the current lower streak
	LowerStreak     int
	NormalStreak    int
	LastDate        time.Time // day of the last applied signal, kept by Machine.Evaluate
}

// Action is what a transition asks the alert store to do.
type Action string

const (
	ActionNone       Action = "none"
	ActionCreate     Action = "create"
	ActionEscalate   Action = "escalate"
	ActionHold       Action = "hold" // lower or normal observation counted, severity unchanged
	ActionDeescalate Action = "deescalate"
	ActionResolve    Action = "resolve"
)

// Decision is the outcome of one transition.
type Decision struct {
	Action   Action
	Severity model.Severity // alert severity after the transition
}

// Transition advances state by one observation of severity sev.
// Escalation is immediate; de-escalation and resolution are damped.
func Transition(p Policy, s State, sev model.Severity) (State, Decision) {
	if p.DeescalationCount < 1 {
		p.DeescalationCount = 1
	}
	if p.ResolveCooldown < 1 {
		p.ResolveCooldown = 1
	}

	if !s.Open {
		if sev >= model.SeverityAdvisory {
			return State{Open: true, Severity: sev}, Decision{Action: ActionCreate, Severity: sev}
		}
		return State{}, Decision{Action: ActionNone, Severity: model.SeverityNormal}
	}

	switch {
	case sev > s.Severity:
		return State{Open: true, AlertID: s.AlertID, Severity: sev}, Decision{Action: ActionEscalate, Severity: sev}

	case sev == s.Severity:
		return State{Open: true, AlertID: s.AlertID, Severity: sev}, Decision{Action: ActionNone, Severity: sev}

	case sev >= model.SeverityAdvisory:
		s.NormalStreak = 0
		if s.LowerStreak == 0 || sev > s.PendingSeverity {
			s.PendingSeverity = sev
		}
		s.LowerStreak++
		if s.LowerStreak >= p.DeescalationCount {
			next := s.PendingSeverity
			return State{Open: true, AlertID: s.AlertID, Severity: next}, Decision{Action: ActionDeescalate, Severity: next}
		}
		return s, Decision{Action: ActionHold, Severity: s.Severity}

	default:
		s.LowerStreak = 0
		s.PendingSeverity = model.SeverityNormal
		s.NormalStreak++
		if s.NormalStreak >= p.ResolveCooldown {
			return State{}, Decision{Action: ActionResolve, Severity: s.Severity}
		}
		return s, Decision{Action: ActionHold, Severity: s.Severity}
	}
}
