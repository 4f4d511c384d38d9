package domain

import "errors"

// Configuration errors are reported before any participant is engaged.
var (
	ErrInvalidConfig       = errors.New("invalid config")
	ErrInvalidStrategy     = errors.New("invalid strategy")
	ErrInsufficientWorkers = errors.New("insufficient workers")
	ErrInvalidDimensions   = errors.New("invalid dimensions")
	ErrInvalidIterations   = errors.New("invalid iteration limit")
	ErrInvalidBounds       = errors.New("invalid complex plane bounds")
)

// Protocol errors abort the run.
var (
	ErrProtocol      = errors.New("protocol violation")
	ErrDuplicateRow  = errors.New("duplicate row")
	ErrRowOutOfRange = errors.New("row out of range")
)
