package scoring

import "time"

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithPolicy sets the calibration policy.
func WithPolicy(p Policy) Option {
	return func(s *Scorer) {
		s.policy = p
	}
}

// WithClock sets the clock stamped on observations.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the observation ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Scorer) {
		if gen != nil {
			s.newID = gen
		}
	}
}
