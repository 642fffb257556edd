package config

import (
	"errors"
)

// ErrLoadConfig wraps failures reading or decoding a config source;
// ErrInvalidConfig wraps values Validate refuses.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
