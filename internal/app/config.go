package service

import (
	"time"

	"github.com/okian/avisurv/internal/config"
	"github.com/okian/avisurv/internal/domain/aggregate"
	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/baseline"
	"github.com/okian/avisurv/internal/domain/scoring"
)

// OptionsFromConfig translates process configuration into service options.
func OptionsFromConfig(cfg *config.Config) []Option {
	months := make([]time.Month, 0, len(cfg.Scoring.PeakMonths))
	for _, m := range cfg.Scoring.PeakMonths {
		months = append(months, time.Month(m))
	}

	return []Option{
		WithWorkerCount(cfg.WorkerCount),
		WithBatchTimeout(cfg.BatchTimeout),
		WithDedupeSize(cfg.Aggregation.DedupeSize),
		WithAggregatorOptions(
			aggregate.WithDefaultThreshold(cfg.Aggregation.DefaultConfidenceThreshold),
			aggregate.WithSpeciesThresholds(cfg.Aggregation.SpeciesThresholds),
			aggregate.WithMaxFutureSkew(cfg.Aggregation.MaxFutureSkew),
			aggregate.WithWeatherLimits(cfg.Aggregation.MaxPrecipitationMM, cfg.Aggregation.MaxWindSpeedMS),
		),
		WithBaselineOptions(
			baseline.WithMinSamples(cfg.Baseline.MinSamples),
			baseline.WithMinPooledSamples(cfg.Baseline.MinPooledSamples),
			baseline.WithPoolRadius(cfg.Baseline.PoolRadiusKM),
			baseline.WithStdFloor(cfg.Baseline.StdFloorFraction, cfg.Baseline.StdFloorMin),
			baseline.WithRecomputeWorkers(cfg.Baseline.RecomputeWorkers),
		),
		WithScoringPolicy(scoring.Policy{
			ModelVersion:              cfg.Scoring.ModelVersion,
			DeclineZThreshold:         cfg.Scoring.DeclineZThreshold,
			AcousticWeight:            cfg.Scoring.AcousticWeight,
			SpatialRadiusKM:           cfg.Scoring.SpatialRadiusKM,
			SpatialMinStations:        cfg.Scoring.SpatialMinStations,
			SpatialWeight:             cfg.Scoring.SpatialWeight,
			MortalityWindow:           cfg.Scoring.MortalityWindow,
			ConfirmedWeight:           cfg.Scoring.ConfirmedWeight,
			UnconfirmedWeight:         cfg.Scoring.UnconfirmedWeight,
			UnconfirmedDeathThreshold: cfg.Scoring.UnconfirmedDeathThreshold,
			SeasonalMultiplier:        cfg.Scoring.SeasonalMultiplier,
			PeakMonths:                months,
			AdvisoryAt:                cfg.Scoring.AdvisoryAt,
			WarningAt:                 cfg.Scoring.WarningAt,
			CriticalAt:                cfg.Scoring.CriticalAt,
		}),
		WithGridIndex(cfg.Scoring.SpatialGridIndex),
		WithAlertPolicy(alerting.Policy{
			DeescalationCount: cfg.Alerting.DeescalationCount,
			ResolveCooldown:   cfg.Alerting.ResolveCooldown,
		}),
		WithDataQualityPolicy(alerting.DataQualityPolicy{
			RejectRate: cfg.Alerting.DataQualityRejectRate,
			MinRecords: cfg.Alerting.DataQualityMinRecords,
		}),
	}
}
