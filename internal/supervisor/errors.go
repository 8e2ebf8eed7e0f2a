package supervisor

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running supervisor.
	ErrAlreadyStarted = errors.New("supervisor: already started")

	// ErrDuplicateChild is returned when two child specs share a name.
	ErrDuplicateChild = errors.New("supervisor: duplicate child name")

	// ErrInvalidSpec is returned for a child spec without a name or start function.
	ErrInvalidSpec = errors.New("supervisor: invalid child spec")
)
