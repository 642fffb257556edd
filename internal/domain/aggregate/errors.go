package aggregate

import "errors"

// Sentinel errors for aggregation.
var (
	ErrInvalidBatch = errors.New("invalid day batch")
)

// Rejection reasons for single detection records.
const (
	ReasonConfidenceRange = "confidence-out-of-range"
	ReasonEmptySpecies    = "empty-species"
	ReasonStationMismatch = "station-mismatch"
	ReasonTimestampRange  = "timestamp-out-of-range"
)
