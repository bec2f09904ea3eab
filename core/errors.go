package core

import "errors"

// Common errors
var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrStaleIndex        = errors.New("index built against a stale reduction basis")
	ErrCorruptState      = errors.New("corrupt persisted state")
	ErrNoBasis           = errors.New("no reduction basis has been fit")
	ErrPointNotFound     = errors.New("data point not found")
	ErrDuplicateID       = errors.New("duplicate data point ID")
	ErrEmptyVector       = errors.New("empty vector")
)
