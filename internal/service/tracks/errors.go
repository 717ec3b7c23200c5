package tracks

import "errors"

// Sentinel errors for the tracks service layer.
var (
	ErrNotFound     = errors.New("tracked message not found")
	ErrInvalidInput = errors.New("invalid input")
)
