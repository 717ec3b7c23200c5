package opens

import "errors"

// Sentinel errors for the opens service layer.
var (
	ErrNotFound = errors.New("tracked message not found")

	// ErrRejected marks a write storage refused because of the data itself.
	// Retrying the same fetch cannot succeed.
	ErrRejected = errors.New("open event rejected by storage")
)
