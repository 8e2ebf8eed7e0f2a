package workflow

import "errors"

// Domain errors for the workflow package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, workflow.ErrNotFound) {
//	    // unknown workflow name
//	}
var (
	// ErrNotFound is returned when no workflow is registered under a name.
	ErrNotFound = errors.New("workflow: not found")

	// ErrInvalidWorkflow is returned when workflow validation fails.
	ErrInvalidWorkflow = errors.New("workflow: invalid")

	// ErrInvalidStep is returned when a step is malformed.
	ErrInvalidStep = errors.New("workflow: invalid step")

	// ErrInvalidName is returned when a workflow name is empty or malformed.
	ErrInvalidName = errors.New("workflow: invalid name")

	// ErrNoSteps is returned when a workflow has no steps.
	ErrNoSteps = errors.New("workflow: no steps")

	// ErrDecode is returned when a definition cannot be parsed.
	ErrDecode = errors.New("workflow: decode failed")
)
