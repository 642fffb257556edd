package repository

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithObservationLimit caps retained observations per key, dropping the
// oldest first. Zero keeps everything.
func WithObservationLimit(n int) Option {
	return func(s *MemoryStore) {
		if n >= 0 {
			s.observationLimit = n
		}
	}
}
