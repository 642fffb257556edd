package model

import (
	"slices"
	"time"
)

// AlertType classifies an alert. Types are ordered; an alert never moves
// to a lower type.
type AlertType string

const (
	AlertDataQuality AlertType = "data-quality"
	AlertAnomaly     AlertType = "anomaly"
	AlertOutbreak    AlertType = "outbreak"
)

func (t AlertType) rank() int {
	switch t {
	case AlertDataQuality:
		return 1
	case AlertAnomaly:
		return 2
	case AlertOutbreak:
		return 3
	}
	return 0
}

// MaxAlertType returns the more serious of two alert types.
func MaxAlertType(a, b AlertType) AlertType {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// AlertStatus is the lifecycle status of an alert.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Alert bridges observations to human response.
type Alert struct {
	ID             string
	Key            Key
	Type           AlertType
	Severity       Severity
	Status         AlertStatus
	Stations       []string
	Species        []string
	TriggeredAt    time.Time
	UpdatedAt      time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy string
	ResolvedAt     *time.Time
	ResolvedBy     string
	Version        uint64
}

// Open reports whether the alert is still active.
func (a *Alert) Open() bool { return a.Status == AlertActive }

// Acknowledged reports whether someone has acknowledged the alert.
func (a *Alert) Acknowledged() bool { return a.AcknowledgedAt != nil }

// AddContext merges affected stations and species, keeping both sets sorted.
func (a *Alert) AddContext(stations, species []string) {
	a.Stations = mergeSorted(a.Stations, stations)
	a.Species = mergeSorted(a.Species, species)
}

// Clone returns a deep copy.
func (a *Alert) Clone() *Alert {
	c := *a
	c.Stations = slices.Clone(a.Stations)
	c.Species = slices.Clone(a.Species)
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func mergeSorted(dst, add []string) []string {
	for _, s := range add {
		if s == "" {
			continue
		}
		if i, found := slices.BinarySearch(dst, s); !found {
			dst = slices.Insert(dst, i, s)
		}
	}
	return dst
}
