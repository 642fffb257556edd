package synthetic

import "errors"

// ErrInvalidConfig is returned when a Config cannot produce a feed.
var ErrInvalidConfig = errors.New("invalid synthetic config")
