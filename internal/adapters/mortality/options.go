package mortality

import "github.com/okian/avisurv/pkg/logger"

type loadSettings struct {
	logger logger.Logger
}

// Option configures LoadCSV.
type Option func(*loadSettings)

// WithLogger sets the logger used to report skipped rows.
func WithLogger(l logger.Logger) Option {
	return func(s *loadSettings) {
		if l != nil {
			s.logger = l
		}
	}
}
