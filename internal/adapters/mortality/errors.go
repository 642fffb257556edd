package mortality

import "errors"

var (
	// ErrUnknownFormat is returned for an export format the parser does not know.
	ErrUnknownFormat = errors.New("unknown mortality export format")
	// ErrMissingColumn is returned when a required header is absent.
	ErrMissingColumn = errors.New("missing column")
	// ErrInvalidRecord marks a row that could not be parsed.
	ErrInvalidRecord = errors.New("invalid mortality record")
)
