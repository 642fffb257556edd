// Package aggregate collapses raw detections into per station/species/day
// activity metrics.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/avisurv/internal/domain/dedupe"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/pkg/logger"
	"github.com/okian/avisurv/pkg/metrics"
)

const (
	defaultConfidenceThreshold = 0.7
	defaultMaxFutureSkew       = 5 * time.Minute
)

// Rejection describes a single detection record dropped as an input defect.
type Rejection struct {
	DetectionID string
	Species     string
	Reason      string
}

// Result is the outcome of aggregating one DayBatch.
type Result struct {
	Metrics    []model.DailyMetric // one per species, sorted by species
	Rejections []Rejection
	Duplicates int
	Total      int // detection records received
}

// RejectionRate is the share of received records rejected as defects.
func (r Result) RejectionRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(len(r.Rejections)) / float64(r.Total)
}

// Aggregator turns DayBatches into DailyMetrics. Aggregating the same batch
// twice yields the same metrics. With a shared deduper, a detection ID
// already claimed by another batch counts as a duplicate.
type Aggregator struct {
	shared             dedupe.Deduper
	defaultThreshold   float64
	thresholds         map[string]float64
	maxFutureSkew      time.Duration
	maxPrecipitationMM float64
	maxWindSpeedMS     float64
	now                func() time.Time
	logger             logger.Logger
}

// New creates an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		defaultThreshold: defaultConfidenceThreshold,
		thresholds:       map[string]float64{},
		maxFutureSkew:    defaultMaxFutureSkew,
		now:              time.Now,
		logger:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Threshold returns the confidence threshold applied to species.
func (a *Aggregator) Threshold(species string) float64 {
	if th, ok := a.thresholds[model.NormalizeSpecies(species)]; ok {
		return th
	}
	return a.defaultThreshold
}

type tally struct {
	detections int
	qualifying int
}

// Aggregate produces one DailyMetric per species present in batch.
// Defective records are rejected individually; only a batch without a
// station or date fails as a whole.
func (a *Aggregator) Aggregate(ctx context.Context, batch model.DayBatch) (Result, error) {
	if batch.StationID == "" || batch.Date.IsZero() {
		return Result{}, fmt.Errorf("%w: station and date are required", ErrInvalidBatch)
	}

	day := model.Day(batch.Date)
	latest := a.now().Add(a.maxFutureSkew)
	seen := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
	owner := batch.StationID + "|" + day.Format(time.DateOnly)

	res := Result{Total: len(batch.Detections)}
	tallies := make(map[string]*tally)

	reject := func(d model.Detection, reason string) {
		res.Rejections = append(res.Rejections, Rejection{DetectionID: d.ID, Species: d.Species, Reason: reason})
		metrics.RecordDetectionRejected(reason)
	}

	for _, d := range batch.Detections {
		species := model.NormalizeSpecies(d.Species)
		switch {
		case species == "":
			reject(d, ReasonEmptySpecies)
			continue
		case d.StationID != "" && d.StationID != batch.StationID:
			reject(d, ReasonStationMismatch)
			continue
		case math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1:
			reject(d, ReasonConfidenceRange)
			continue
		case !model.Day(d.Timestamp).Equal(day) || d.Timestamp.After(latest):
			reject(d, ReasonTimestampRange)
			continue
		}
		if d.ID != "" && (seen.SeenAndRecord(ctx, d.ID) || a.claimed(ctx, d.ID, owner)) {
			res.Duplicates++
			continue
		}

		t := tallies[species]
		if t == nil {
			t = &tally{}
			tallies[species] = t
		}
		t.detections++
		if d.Confidence >= a.Threshold(species) {
			t.qualifying++
		}
	}

	hours, excludedReason := a.exclusion(batch)
	res.Metrics = make([]model.DailyMetric, 0, len(tallies))
	for species, t := range tallies {
		res.Metrics = append(res.Metrics, a.metric(batch, day, species, hours, excludedReason, *t))
	}
	sort.Slice(res.Metrics, func(i, j int) bool { return res.Metrics[i].Species < res.Metrics[j].Species })

	if len(res.Rejections) > 0 || res.Duplicates > 0 {
		a.logger.Debug(ctx, "detections dropped",
			logger.String("station", batch.StationID),
			logger.Time("date", day),
			logger.Int("rejected", len(res.Rejections)),
			logger.Int("duplicates", res.Duplicates),
		)
	}
	return res, nil
}

func (a *Aggregator) claimed(ctx context.Context, id, owner string) bool {
	return a.shared != nil && a.shared.Claim(ctx, id, owner)
}

// Silent returns the metric for a species the station expected but did not
// hear on batch's day: zero detections, VAR 0 unless the day is excluded.
func (a *Aggregator) Silent(batch model.DayBatch, species string) model.DailyMetric {
	hours, excludedReason := a.exclusion(batch)
	return a.metric(batch, model.Day(batch.Date), model.NormalizeSpecies(species), hours, excludedReason, tally{})
}

func (a *Aggregator) exclusion(batch model.DayBatch) (float64, string) {
	hours := recordingHours(batch)
	switch {
	case !(hours > 0):
		return hours, model.ExcludedNoRecordingTime
	case a.adverseWeather(batch.Weather):
		return hours, model.ExcludedWeather
	}
	return hours, ""
}

func (a *Aggregator) metric(batch model.DayBatch, day time.Time, species string, hours float64, excludedReason string, t tally) model.DailyMetric {
	m := model.DailyMetric{
		StationID:       batch.StationID,
		Species:         species,
		Date:            day,
		DetectionCount:  t.detections,
		QualifyingCount: t.qualifying,
		RecordingHours:  hours,
		Soundscape:      batch.Soundscape,
		Weather:         batch.Weather,
	}
	if excludedReason != "" {
		m.Excluded = true
		m.ExcludedReason = excludedReason
		metrics.RecordDailyMetric("excluded")
		return m
	}
	v := float64(t.qualifying) / hours
	m.VAR = &v
	metrics.RecordDailyMetric("scored")
	return m
}

// recordingHours prefers the batch total and falls back to the widest
// per-detection window when the batch carries none.
func recordingHours(batch model.DayBatch) float64 {
	if batch.RecordingHours > 0 || len(batch.Detections) == 0 {
		return batch.RecordingHours
	}
	var hours float64
	for _, d := range batch.Detections {
		if d.RecordingHours > hours {
			hours = d.RecordingHours
		}
	}
	return hours
}

func (a *Aggregator) adverseWeather(w *model.Weather) bool {
	if w == nil {
		return false
	}
	if a.maxPrecipitationMM > 0 && w.PrecipitationMM > a.maxPrecipitationMM {
		return true
	}
	return a.maxWindSpeedMS > 0 && w.WindSpeedMS > a.maxWindSpeedMS
}
