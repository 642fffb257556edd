package baseline

import "errors"

// Sentinel errors for baseline computation.
var (
	// ErrBaselineWithheld means neither own nor pooled history had samples.
	ErrBaselineWithheld = errors.New("baseline withheld: no qualifying history")
	// ErrNoBaseline means no committed snapshot exists for the key.
	ErrNoBaseline     = errors.New("no baseline")
	ErrUnknownStation = errors.New("unknown station")
	ErrInvalidWeek    = errors.New("invalid iso week")
)
