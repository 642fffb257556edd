package baseline

import (
	"time"

	"github.com/okian/avisurv/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithMinSamples sets the own-history count required for a direct baseline.
func WithMinSamples(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.minSamples = n
		}
	}
}

// WithMinPooledSamples sets the pooled count below which a baseline is withheld.
func WithMinPooledSamples(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.minPooledSamples = n
		}
	}
}

// WithPoolRadius sets the radius of the regional pool in kilometres.
func WithPoolRadius(km float64) Option {
	return func(m *Manager) {
		if km > 0 {
			m.poolRadiusKM = km
		}
	}
}

// WithStdFloor sets the substitute spread for degenerate history:
// max(fraction*|mean|, minimum).
func WithStdFloor(fraction, minimum float64) Option {
	return func(m *Manager) {
		if fraction >= 0 {
			m.stdFloorFraction = fraction
		}
		if minimum > 0 {
			m.stdFloorMin = minimum
		}
	}
}

// WithRecomputeWorkers bounds concurrent keys during Recompute.
func WithRecomputeWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithClock overrides the clock stamped on new snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
