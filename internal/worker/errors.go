package worker

import "errors"

var errPanicked = errors.New("sweep panicked")
