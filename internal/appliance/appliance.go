package appliance

import (
	"context"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/homegateway/internal/notify"
)

// Registered names.
const (
	PoolName  = string(device.ClassSmartSwitch)
	StateName = "appliance-state"

	// GroupName receives a device.Transition for every on/off change.
	GroupName = "appliance-events"
)

// Appliance states.
const (
	StateOn  = "on"
	StateOff = "off"
)

// DefaultWindow is the averaging window when none is configured.
const DefaultWindow = 5 * time.Minute

// Settings configures inference for one plug. Thresholds are in amps: an
// average current at or above OnThreshold switches an Off appliance On, and
// one below OffThreshold switches an On appliance Off.
type Settings struct {
	Name         string
	OnThreshold  float64
	OffThreshold float64
	Window       time.Duration
}

// ReadingStore persists raw plug readings.
type ReadingStore interface {
	InsertPowerReading(ctx context.Context, ev *device.Event, r device.PowerReading) error
}

// Telemetry receives power samples and inferred transitions.
// *influxdb.Client satisfies it.
type Telemetry interface {
	WritePowerReading(r influxdb.PowerReading)
	WriteTransition(class, ieee, state string, at time.Time)
}

// Logger defines the logging interface for the appliance actors.
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

// Deps holds what the appliance actors need. Telemetry and Hub may be nil.
type Deps struct {
	System     *actor.System
	Readings   ReadingStore
	States     device.StateRepository
	Telemetry  Telemetry
	Hub        notify.Broadcaster
	Notifier   notify.Notifier
	Appliances map[string]Settings

	Logger Logger
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = noopLogger{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) name(ieee string) string {
	if s, ok := d.Appliances[ieee]; ok && s.Name != "" {
		return s.Name
	}
	return ieee
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
