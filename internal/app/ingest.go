package service

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/pkg/logger"
	"github.com/okian/avisurv/pkg/metrics"
)

// IngestSummary counts what Ingest did with a set of day batches.
type IngestSummary struct {
	Batches     int
	Invalid     int // batches without station or date
	Metrics     int // metrics stored, silent ones included
	Silent      int // expected species not heard on a recorded day
	Rejected    int // detection records dropped as defects
	Duplicates  int
	DataQuality int // data-quality signals evaluated
	Failed      int // batches or signals the store refused
}

// Ingest aggregates batches into daily metrics and stores them. A species
// the station has history for, stored or earlier in batches, but did not
// hear gets a zero-VAR metric so a full collapse is scored rather than
// skipped. Each station's rejection rate is graded as a data-quality signal.
//
// Batches for one station must be given in date order.
func (s *Service) Ingest(ctx context.Context, batches []model.DayBatch) (IngestSummary, error) {
	expected, err := s.expectedSpecies(ctx)
	if err != nil {
		return IngestSummary{}, err
	}

	var sum IngestSummary
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Batches++

		res, err := s.aggregator.Aggregate(ctx, b)
		if err != nil {
			sum.Invalid++
			metrics.RecordErrorByComponent("aggregate", "invalid_batch")
			s.logger.Warn(ctx, "day batch rejected",
				logger.String("station", b.StationID),
				logger.Time("date", b.Date),
				logger.Error(err),
			)
			continue
		}

		ms := res.Metrics
		heard := make(map[string]bool, len(ms))
		for _, m := range ms {
			heard[m.Species] = true
		}
		for _, species := range expected[b.StationID] {
			if !heard[species] {
				ms = append(ms, s.aggregator.Silent(b, species))
				sum.Silent++
			}
		}
		if err := s.store.PutMetrics(ctx, ms); err != nil {
			sum.Failed++
			metrics.RecordErrorByComponent("store", "put_metrics")
			s.logger.Error(ctx, "metrics not stored",
				logger.String("station", b.StationID),
				logger.Time("date", b.Date),
				logger.Error(err),
			)
			continue
		}
		sum.Metrics += len(ms)
		sum.Rejected += len(res.Rejections)
		sum.Duplicates += res.Duplicates
		expected[b.StationID] = mergeSpecies(expected[b.StationID], heard)

		sig, ok := alerting.DataQualitySignal(s.dataQuality, b.StationID, len(res.Rejections), res.Total, model.Day(b.Date))
		if !ok {
			continue
		}
		sum.DataQuality++
		if _, err := s.apply(ctx, sig, nil); err != nil && !s.replayed(ctx, sig, err) {
			sum.Failed++
			s.logger.Error(ctx, "data-quality signal not applied",
				logger.String("station", b.StationID),
				logger.Error(err),
			)
		}
	}

	s.logger.Debug(ctx, "batches ingested",
		logger.Int("batches", sum.Batches),
		logger.Int("metrics", sum.Metrics),
		logger.Int("silent", sum.Silent),
		logger.Int("rejected", sum.Rejected),
		logger.Int("invalid", sum.Invalid),
	)
	return sum, nil
}

// expectedSpecies maps each station to the sorted species it has history for.
func (s *Service) expectedSpecies(ctx context.Context) (map[string][]string, error) {
	keys, err := s.store.SeriesKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	out := make(map[string][]string)
	for _, k := range keys {
		out[k.StationID] = append(out[k.StationID], k.Species)
	}
	for _, species := range out {
		sort.Strings(species)
	}
	return out, nil
}

// mergeSpecies returns the sorted union of known and heard.
func mergeSpecies(known []string, heard map[string]bool) []string {
	out := known
	for species := range heard {
		if !slices.Contains(known, species) {
			out = append(out, species)
		}
	}
	if len(out) != len(known) {
		sort.Strings(out)
	}
	return out
}
