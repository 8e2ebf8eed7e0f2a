package workflow

import (
	"time"

	"github.com/nerrad567/homegateway/internal/device"
)

// Workflow is a static automation script: an ordered list of steps run
// depth-first, one step at a time.
type Workflow struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Enabled defaults to true when a definition is parsed.
	Enabled bool `yaml:"enabled" json:"enabled"`

	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one of Command, If or Notify. Exactly one field is set.
type Step struct {
	Command *CommandStep `yaml:"command,omitempty" json:"command,omitempty"`
	If      *Conditional `yaml:"if,omitempty" json:"if,omitempty"`
	Notify  *NotifyStep  `yaml:"notify,omitempty" json:"notify,omitempty"`
}

// CommandStep sends a command to the actor registered as Target.
// When is an optional guard evaluated just before sending.
type CommandStep struct {
	Target string               `yaml:"target" json:"target"`
	IEEE   string               `yaml:"ieee" json:"ieee"`
	Action device.CommandAction `yaml:"action" json:"action"`
	Value  int                  `yaml:"value,omitempty" json:"value,omitempty"`
	When   *Condition           `yaml:"when,omitempty" json:"when,omitempty"`
}

// Conditional runs Steps only if Condition holds.
type Conditional struct {
	Condition Condition `yaml:"condition" json:"condition"`
	Steps     []Step    `yaml:"steps" json:"steps"`
}

// Condition is a live power-state check answered by the actor registered
// as Target.
type Condition struct {
	Target string `yaml:"target" json:"target"`
	IEEE   string `yaml:"ieee" json:"ieee"`
	State  Expect `yaml:"state" json:"state"`
}

// NotifyStep sends a notification.
type NotifyStep struct {
	Title   string `yaml:"title,omitempty" json:"title,omitempty"`
	Message string `yaml:"message" json:"message"`
}

// Expect is the power state a condition requires.
type Expect string

const (
	ExpectOn  Expect = "on"
	ExpectOff Expect = "off"
)

// Holds reports whether s satisfies the expectation. A device that has
// never reported satisfies neither.
func (e Expect) Holds(s device.PowerState) bool {
	if !s.Known {
		return false
	}
	return s.On == (e == ExpectOn)
}

// ExecutionStatus is the outcome of one workflow run.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	// StatusPartial means at least one step was aborted.
	StatusPartial   ExecutionStatus = "partial"
	StatusDisabled  ExecutionStatus = "disabled"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Execution summarises one workflow run.
type Execution struct {
	ID          string          `json:"id"`
	Workflow    string          `json:"workflow"`
	Source      string          `json:"source,omitempty"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`

	Sent     int `json:"sent"`
	Skipped  int `json:"skipped"`
	Aborted  int `json:"aborted"`
	Notified int `json:"notified"`

	Failures []StepFailure `json:"failures,omitempty"`
}

// StepFailure records an aborted step. Path is the step's position, for
// example "2.if.0".
type StepFailure struct {
	Path   string `json:"path"`
	Target string `json:"target"`
	Error  string `json:"error"`
}
