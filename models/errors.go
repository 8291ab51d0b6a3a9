package models

import "errors"

var (
	// ErrDeviceUnavailable: a camera, microphone or motion device is missing.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrWriterInit: the container writer could not be created or started.
	ErrWriterInit = errors.New("writer init failed")
	// ErrBackpressureDrop: a frame or sample was dropped because a consumer was not ready.
	ErrBackpressureDrop = errors.New("backpressure drop")
	// ErrConfigurationRejected: a requested device or format could not be applied.
	ErrConfigurationRejected = errors.New("configuration rejected")
	// ErrSessionFinishing: start requested while the previous recording is still finalizing.
	ErrSessionFinishing = errors.New("recording session still finishing")
	ErrNotRecording     = errors.New("not recording")
	ErrShortRow         = errors.New("short csv row")
)
