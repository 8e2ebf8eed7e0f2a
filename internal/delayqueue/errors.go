package delayqueue

import "errors"

var (
	// ErrInvalidName is returned for queue names that are not safe table suffixes.
	ErrInvalidName = errors.New("delayqueue: invalid queue name")

	// ErrUnavailable wraps storage failures. Callers may retry.
	ErrUnavailable = errors.New("delayqueue: storage unavailable")

	// ErrDecode is returned when a leased payload does not decode into T.
	ErrDecode = errors.New("delayqueue: payload decode failed")
)
