package calibrate

import "errors"

// Sentinel kinds for calibration errors.
var (
	ErrMassNotPositive = errors.New("mass must be > 0")
	ErrMassesTooClose  = errors.New("two-point masses must differ")
	ErrPointsMissing   = errors.New("need cal1 and cal2 first")
	ErrTareTimeout     = errors.New("tare timed out with no readings")
	ErrGateTimeout     = errors.New("stability gate timed out")
)
