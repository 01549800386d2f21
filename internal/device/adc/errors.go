package adc

import "errors"

// Sentinel kinds for ADC errors.
var (
	ErrNotReady = errors.New("adc not ready")
)
