package spatial

// Option applies a configuration option to a Correlator.
type Option func(*settings)

type settings struct {
	radiusKM  float64
	threshold float64
	grid      bool
}

// WithRadius sets the neighborhood radius in kilometres.
func WithRadius(km float64) Option {
	return func(s *settings) {
		if km > 0 {
			s.radiusKM = km
		}
	}
}

// WithDeclineThreshold sets the z-score a neighbor must exceed to count.
func WithDeclineThreshold(z float64) Option {
	return func(s *settings) {
		s.threshold = z
	}
}

// WithGridIndex selects the latitude-band index instead of pairwise comparison.
func WithGridIndex(enabled bool) Option {
	return func(s *settings) {
		s.grid = enabled
	}
}
