package trigger

import (
	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/workflow"
)

const (
	// SwitchPoolName is the registered name of the control-switch pool.
	SwitchPoolName = string(device.ClassControlSwitch)
	// PresencePoolName is the registered name of the presence-sensor pool.
	PresencePoolName = string(device.ClassPresenceSensor)
)

// Presence action keys looked up in a sensor's Settings.Actions.
const (
	PresenceDetected   = "presence_detected"
	NoPresenceDetected = "no_presence_detected"
)

// Settings maps the actions one device reports to workflow names.
type Settings struct {
	Name    string
	Actions map[string]string
}

// Workflows resolves workflow names. *workflow.Registry satisfies it.
type Workflows interface {
	Get(name string) (*workflow.Workflow, error)
}

// Logger defines the logging interface for the trigger pools.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Deps holds what the trigger workers need.
type Deps struct {
	System    *actor.System
	Workflows Workflows
	// Switches and Presence are keyed by IEEE address.
	Switches map[string]Settings
	Presence map[string]Settings
	Logger   Logger
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = noopLogger{}
	}
}

// dispatch resolves name and submits it to the workflow pool. Failures
// are logged; the device report that caused them is not retried.
func (d Deps) dispatch(ev *device.Event, action, name string) {
	wf, err := d.Workflows.Get(name)
	if err != nil {
		d.Logger.Warn("configured workflow not loaded",
			"ieee", ev.IEEE, "action", action, "workflow", name, "error", err)
		return
	}
	id, err := workflow.Submit(d.System, wf, string(ev.Class))
	if err != nil {
		d.Logger.Warn("workflow not submitted",
			"ieee", ev.IEEE, "action", action, "workflow", name, "error", err)
		return
	}
	d.Logger.Info("workflow submitted",
		"ieee", ev.IEEE, "action", action, "workflow", name,
		"execution_id", id, "correlation_id", ev.CorrelationID)
}
