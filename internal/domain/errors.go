package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrProviderFailure = errors.New("provider failure")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrPollTimeout     = errors.New("mesh generation did not finish in time")
)
