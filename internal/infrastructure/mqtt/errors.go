package mqtt

import "errors"

// Sentinels returned by the client. Operation failures wrap one of the
// *Failed errors together with the cause, so both match errors.Is.
var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS   = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is joined with the operation sentinel when a broker
	// acknowledgement does not arrive in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
