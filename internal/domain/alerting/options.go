package alerting

import "time"

// Option applies a configuration option to the Machine.
type Option func(*Machine)

// WithPolicy sets the hysteresis policy.
func WithPolicy(p Policy) Option {
	return func(m *Machine) {
		m.policy = p
	}
}

// WithIDGenerator sets the alert ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Machine) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithClock sets the clock used when a human operation carries no time.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}
