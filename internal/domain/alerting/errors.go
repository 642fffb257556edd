package alerting

import "errors"

// Sentinel errors for alert operations.
var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrAlertResolved = errors.New("alert already resolved")
	// ErrStaleSignal is returned for a signal dated on or before the last
	// day already applied to its key.
	ErrStaleSignal = errors.New("signal not newer than last applied day")
)
