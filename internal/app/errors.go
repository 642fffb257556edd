package service

import "errors"

// Sentinel errors returned by the service.
var (
	ErrNoStore      = errors.New("service requires a store")
	ErrInvalidInput = errors.New("invalid input")
)
