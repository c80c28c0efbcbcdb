package audio

import "errors"

// ErrNoCaptureDevice indicates no producer could be started for a session.
var ErrNoCaptureDevice = errors.New("no capture device available")

// ErrUnsupportedSource indicates an unknown capture source was requested.
var ErrUnsupportedSource = errors.New("unsupported capture source")

// ErrNoSystemDevice indicates no system-loopback candidate was found.
var ErrNoSystemDevice = errors.New("no system audio device found")

// ErrLoopbackUnsupported indicates the platform has no native loopback API.
var ErrLoopbackUnsupported = errors.New("loopback capture not supported on this platform")

// ErrFormatUnsupported indicates a device offers no usable sample format.
var ErrFormatUnsupported = errors.New("unsupported sample format")
