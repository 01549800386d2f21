package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrEmptyDeviceID = errors.New("device id must not be empty")
)
