package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidSpeed) {
//	    // skip the speed step
//	}
var (
	// ErrNoDevice is returned when a command is issued before any device
	// has been discovered.
	ErrNoDevice = errors.New("device: no device discovered")

	// ErrUnknownStrokeType is returned when a stroke type is not in the
	// pattern table.
	ErrUnknownStrokeType = errors.New("device: unknown stroke type")

	// ErrInvalidSpeed is returned when a speed value is not an integer.
	ErrInvalidSpeed = errors.New("device: invalid speed")

	// ErrUnknownMotionState is returned when a motion state is neither
	// start nor stop.
	ErrUnknownMotionState = errors.New("device: unknown motion state")

	// ErrRequestFailed is returned when a device HTTP call fails in transport.
	ErrRequestFailed = errors.New("device: request failed")
)
