package heartbeat

import "errors"

// Sentinel kinds for heartbeat errors.
var (
	ErrConnect = errors.New("heartbeat broker connect failed")
)
