package actor

import "errors"

var (
	// ErrStopped is returned when sending to an actor that has exited.
	ErrStopped = errors.New("actor: stopped")

	// ErrNotRegistered is returned when no live actor holds the name.
	ErrNotRegistered = errors.New("actor: no actor registered under name")

	// ErrNameTaken is returned when spawning under a name a live actor holds.
	ErrNameTaken = errors.New("actor: name already registered")

	// ErrTypeMismatch is returned when the registered actor does not accept
	// the requested message type.
	ErrTypeMismatch = errors.New("actor: registered actor has a different message type")

	// ErrTimeout is returned by Ask when no reply arrives in time.
	ErrTimeout = errors.New("actor: ask timed out")

	// ErrKilled is the default reason recorded by Kill.
	ErrKilled = errors.New("actor: killed")
)

// PanicError is recorded as the exit reason of an actor whose handler panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "actor: panic: " + sprint(e.Value)
}
