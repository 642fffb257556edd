// Package repository defines the storage boundary of the surveillance core
// and its in-memory implementation.
package repository

import (
	"context"
	"time"

	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/model"
)

// MetricStore holds aggregated daily metrics, at most one per key and day.
type MetricStore interface {
	// PutMetrics upserts metrics keyed by (station, species, date).
	PutMetrics(ctx context.Context, metrics []model.DailyMetric) error
	// WeekHistory returns every metric of the series whose date falls in
	// ISO week-of-year week, in any year, ordered by date.
	WeekHistory(ctx context.Context, stationID, species string, week int) ([]model.DailyMetric, error)
	// MetricsOn returns all metrics for a calendar day.
	MetricsOn(ctx context.Context, date time.Time) ([]model.DailyMetric, error)
	// SeriesKeys lists every station/species with stored metrics.
	SeriesKeys(ctx context.Context) ([]model.Key, error)
}

// BaselineStore publishes baseline snapshots. Readers always see the last
// committed snapshot for a key, never a partial one.
type BaselineStore interface {
	PutBaseline(ctx context.Context, b model.Baseline) (model.Baseline, error)
	Baseline(ctx context.Context, key model.BaselineKey) (model.Baseline, error)
	DeleteBaseline(ctx context.Context, key model.BaselineKey) error
}

// ObservationStore reads committed observations.
type ObservationStore interface {
	Observations(ctx context.Context, key model.Key, from, to time.Time) ([]model.AnomalyObservation, error)
}

// AlertStore reads alerts and their hysteresis state.
type AlertStore interface {
	AlertState(ctx context.Context, key model.Key) (alerting.State, error)
	Alert(ctx context.Context, id string) (*model.Alert, error)
	UpdateAlert(ctx context.Context, a *model.Alert) error
	OpenAlerts(ctx context.Context) ([]*model.Alert, error)
}

// StationRegistry holds station reference data.
type StationRegistry interface {
	PutStation(ctx context.Context, s model.Station) error
	Station(ctx context.Context, id string) (model.Station, error)
	Stations(ctx context.Context) ([]model.Station, error)
}

// Commit is the unit of work for one key and day: the observation and the
// alert transition it caused. Either may be nil.
type Commit struct {
	Observation *model.AnomalyObservation
	Outcome     *alerting.Outcome
}

// Committer applies a Commit atomically.
type Committer interface {
	Commit(ctx context.Context, c Commit) error
}

// Store is the full storage boundary.
type Store interface {
	MetricStore
	BaselineStore
	ObservationStore
	AlertStore
	StationRegistry
	Committer
	Close() error
}
