package repository

import (
	"errors"

	"github.com/okian/avisurv/internal/domain/model"
)

// Sentinel kinds for store errors. ErrNotFound is the domain sentinel so
// callers can test with errors.Is without importing this package.
var (
	ErrNotFound   = model.ErrNotFound
	ErrInvalidKey = errors.New("invalid key")
	ErrClosed     = errors.New("store closed")
)
