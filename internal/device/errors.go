package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDecode) {
//	    // drop the payload, never retry
//	}
var (
	// ErrDecode is returned when a payload does not match any known message shape.
	ErrDecode = errors.New("device: undecodable payload")

	// ErrUnknownModel is returned when a payload names a device model with no known shape.
	ErrUnknownModel = errors.New("device: unknown model")

	// ErrMissingField is returned when a known shape lacks a required field.
	ErrMissingField = errors.New("device: missing required field")

	// ErrNotFound is returned when a device has no stored row.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidIEEE is returned for an empty device address.
	ErrInvalidIEEE = errors.New("device: invalid ieee address")
)
