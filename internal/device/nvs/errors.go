package nvs

import "errors"

// Sentinel kinds for NVS errors.
var (
	ErrReadOnly = errors.New("nvs: write on read-only handle")
)
