package transport

import "errors"

// Sentinel kinds for transport errors.
var (
	ErrUpload = errors.New("event upload failed")
)
