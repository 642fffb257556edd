// Package notify publishes alert lifecycle events to downstream consumers.
package notify

import (
	"time"

	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/model"
)

// AlertEvent is the wire form of an alert change.
type AlertEvent struct {
	AlertID        string     `json:"alert_id" msgpack:"alert_id"`
	StationID      string     `json:"station_id" msgpack:"station_id"`
	Species        string     `json:"species" msgpack:"species"`
	Action         string     `json:"action" msgpack:"action"`
	Type           string     `json:"type" msgpack:"type"`
	Severity       string     `json:"severity" msgpack:"severity"`
	Status         string     `json:"status" msgpack:"status"`
	Stations       []string   `json:"stations,omitempty" msgpack:"stations,omitempty"`
	SpeciesList    []string   `json:"species_list,omitempty" msgpack:"species_list,omitempty"`
	TriggeredAt    time.Time  `json:"triggered_at" msgpack:"triggered_at"`
	UpdatedAt      time.Time  `json:"updated_at" msgpack:"updated_at"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty" msgpack:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" msgpack:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty" msgpack:"resolved_by,omitempty"`
	Version        uint64     `json:"version" msgpack:"version"`
}

// Key returns the partitioning key: the alert's station/species key.
func (e AlertEvent) Key() string {
	return model.Key{StationID: e.StationID, Species: e.Species}.String()
}

// EventFromAlert builds the event for action on a.
func EventFromAlert(a *model.Alert, action string) AlertEvent {
	e := AlertEvent{
		AlertID:        a.ID,
		StationID:      a.Key.StationID,
		Species:        a.Key.Species,
		Action:         action,
		Type:           string(a.Type),
		Severity:       a.Severity.String(),
		Status:         string(a.Status),
		Stations:       append([]string(nil), a.Stations...),
		SpeciesList:    append([]string(nil), a.Species...),
		TriggeredAt:    a.TriggeredAt,
		UpdatedAt:      a.UpdatedAt,
		AcknowledgedBy: a.AcknowledgedBy,
		ResolvedBy:     a.ResolvedBy,
		Version:        a.Version,
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		e.ResolvedAt = &t
	}
	return e
}

// EventFromOutcome returns the event for a machine outcome, or ok=false
// when the outcome wrote nothing.
func EventFromOutcome(out alerting.Outcome) (AlertEvent, bool) {
	if out.Alert == nil {
		return AlertEvent{}, false
	}
	action := string(out.Decision.Action)
	if out.Decision.Action == alerting.ActionNone || out.Decision.Action == alerting.ActionHold {
		action = "retype"
	}
	return EventFromAlert(out.Alert, action), true
}
