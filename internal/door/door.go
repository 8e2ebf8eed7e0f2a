package door

import (
	"context"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/notify"
)

// Registered names.
const (
	SensorPoolName = string(device.ClassDoorSensor)
	DerivedName    = "door-derived"
	ArmedName      = "door-armed"

	// GroupName is the process group sensor readings are broadcast to.
	GroupName = "door-events"
)

// Stored door states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Defaults.
const (
	DefaultQuietWindow = 60 * time.Second
	DefaultMinInterval = time.Second
)

// Kind is the kind of a door event.
type Kind int

const (
	Opened Kind = iota + 1
	Closed
	// Trigger is the armed actor's delayed self-message.
	Trigger
)

func (k Kind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	case Trigger:
		return "trigger"
	}
	return "unknown"
}

// Msg is the message type of the door event listeners.
type Msg struct {
	Kind          Kind
	IEEE          string
	CorrelationID string
}

// Settings configures one door. A positive OpenTimeout arms the door.
type Settings struct {
	Name        string
	OpenTimeout time.Duration
}

// ReadingStore persists raw contact readings.
type ReadingStore interface {
	InsertDoorReading(ctx context.Context, ev *device.Event, r device.DoorReading) error
}

// TransitionWriter records state transitions as telemetry.
type TransitionWriter interface {
	WriteTransition(class, ieee, state string, at time.Time)
}

// Logger defines the logging interface for the door actors.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds what the door actors need. Telemetry and Hub may be nil.
type Deps struct {
	System    *actor.System
	Readings  ReadingStore
	States    device.StateRepository
	Telemetry TransitionWriter
	Hub       notify.Broadcaster
	Notifier  notify.Notifier
	Doors     map[string]Settings

	// QuietWindow suppresses repeat open-door alerts for the same door.
	QuietWindow time.Duration
	// MinInterval drops contact changes that follow the previous change
	// too closely to be real.
	MinInterval time.Duration

	Logger Logger
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.QuietWindow <= 0 {
		d.QuietWindow = DefaultQuietWindow
	}
	if d.MinInterval <= 0 {
		d.MinInterval = DefaultMinInterval
	}
	if d.Logger == nil {
		d.Logger = noopLogger{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) name(ieee string) string {
	if s, ok := d.Doors[ieee]; ok && s.Name != "" {
		return s.Name
	}
	return ieee
}
