package config

import "errors"

// Sentinel kinds for configuration errors.
var (
	ErrEmptyAddr    = errors.New("addr must not be empty")
	ErrEmptyScaleID = errors.New("scale_id must not be empty")
)
