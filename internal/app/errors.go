package app

import "errors"

// ErrNoS3 indicates no S3 bucket is configured.
var ErrNoS3 = errors.New("no S3 bucket configured")

// InitError reports a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
