package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the tier assigned to a composite score.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityAdvisory
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "normal"
	case SeverityAdvisory:
		return "advisory"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity parses the String form of a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "normal":
		return SeverityNormal, nil
	case "advisory":
		return SeverityAdvisory, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	}
	return SeverityNormal, fmt.Errorf("unknown severity %q", s)
}

// ObservationKind distinguishes scored anomalies from data-quality notes.
type ObservationKind string

const (
	KindAnomaly     ObservationKind = "anomaly"
	KindDataQuality ObservationKind = "data-quality"
)

// Factor is one human-readable contribution to a score.
type Factor struct {
	Name   string  `json:"name"`
	Detail string  `json:"detail,omitempty"`
	Points float64 `json:"points,omitempty"`
}

func (f Factor) String() string {
	if f.Detail == "" {
		return f.Name
	}
	return f.Name + ": " + f.Detail
}

// AnomalyObservation is an immutable scoring result for a station/species/day.
type AnomalyObservation struct {
	ID           string
	StationID    string
	Species      string
	Date         time.Time
	Kind         ObservationKind
	ZScore       float64
	Score        float64
	Factors      []Factor
	Severity     Severity
	TypeHint     AlertType
	ModelVersion string
	ComputedAt   time.Time
}

// Key returns the station/species key of the observation.
func (o AnomalyObservation) Key() Key {
	return Key{StationID: o.StationID, Species: o.Species}
}

// HasFactor reports whether a factor with the given name was recorded.
func (o AnomalyObservation) HasFactor(name string) bool {
	for _, f := range o.Factors {
		if f.Name == name {
			return true
		}
	}
	return false
}
