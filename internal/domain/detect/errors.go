package detect

import "errors"

// Sentinel kinds for detector errors.
var (
	ErrNoSamples = errors.New("no samples")
)
