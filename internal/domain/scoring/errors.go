package scoring

import "errors"

// Sentinel errors for scoring.
var (
	// ErrExcludedDay means the metric is excluded and produces no observation.
	ErrExcludedDay   = errors.New("excluded day is not scored")
	ErrInvalidPolicy = errors.New("invalid scoring policy")
)
