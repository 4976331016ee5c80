package core

import "errors"

var (
	ErrCameraNotFound       = errors.New("camera not found")
	ErrCameraUnavailable    = errors.New("camera is not connected")
	ErrAlreadyActive        = errors.New("stream already active for this camera")
	ErrStreamNotFound       = errors.New("no active stream for this camera")
	ErrAlertNotFound        = errors.New("alert not found")
	ErrAlertAlreadyResolved = errors.New("alert already resolved")
)
