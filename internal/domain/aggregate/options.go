package aggregate

import (
	"time"

	"github.com/okian/avisurv/internal/domain/dedupe"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/pkg/logger"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithDefaultThreshold sets the confidence threshold for species without an explicit one.
func WithDefaultThreshold(th float64) Option {
	return func(a *Aggregator) {
		if th >= 0 && th <= 1 {
			a.defaultThreshold = th
		}
	}
}

// WithSpeciesThresholds sets per-species confidence thresholds. Codes are
// matched case-insensitively.
func WithSpeciesThresholds(thresholds map[string]float64) Option {
	return func(a *Aggregator) {
		a.thresholds = make(map[string]float64, len(thresholds))
		for code, th := range thresholds {
			a.thresholds[model.NormalizeSpecies(code)] = th
		}
	}
}

// WithMaxFutureSkew tolerates detection timestamps slightly ahead of the clock.
func WithMaxFutureSkew(d time.Duration) Option {
	return func(a *Aggregator) {
		if d >= 0 {
			a.maxFutureSkew = d
		}
	}
}

// WithWeatherLimits excludes days whose weather exceeds either limit.
// A zero limit disables that check.
func WithWeatherLimits(maxPrecipitationMM, maxWindSpeedMS float64) Option {
	return func(a *Aggregator) {
		a.maxPrecipitationMM = maxPrecipitationMM
		a.maxWindSpeedMS = maxWindSpeedMS
	}
}

// WithDeduper shares d across batches so a detection ID replayed under
// another station or day is counted once.
func WithDeduper(d dedupe.Deduper) Option {
	return func(a *Aggregator) {
		a.shared = d
	}
}

// WithClock overrides the clock used for the future-timestamp check.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}
