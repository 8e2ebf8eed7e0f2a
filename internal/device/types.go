package device

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Class is the logical device class an event is routed by. Each class
// name doubles as the registered name of the pool that handles it.
type Class string

const (
	ClassDoorSensor        Class = "door-sensor"
	ClassSmartSwitch       Class = "smart-switch"
	ClassLight             Class = "light"
	ClassTemperatureSensor Class = "temperature-sensor"
	ClassPresenceSensor    Class = "presence-sensor"
	ClassControlSwitch     Class = "control-switch"
)

// AllClasses lists every class a payload can decode to.
var AllClasses = []Class{
	ClassDoorSensor,
	ClassSmartSwitch,
	ClassLight,
	ClassTemperatureSensor,
	ClassPresenceSensor,
	ClassControlSwitch,
}

// Event is a decoded inbound device message.
type Event struct {
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	Class         Class           `json:"class"`
	IEEE          string          `json:"ieee"`
	FriendlyName  string          `json:"friendly_name"`
	Model         string          `json:"model"`
	Reading       Reading         `json:"reading"`
	Raw           json.RawMessage `json:"-"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// Reading is the class-specific part of an event. The set of
// implementations is closed.
type Reading interface {
	Class() Class
	reading()
}

// DoorReading is a contact sensor report. Contact is true when closed.
type DoorReading struct {
	Contact bool `json:"contact"`
	Battery *int `json:"battery,omitempty"`
}

// PowerReading is a smart plug report.
type PowerReading struct {
	Power   float64  `json:"power"`
	Energy  *float64 `json:"energy,omitempty"`
	Voltage *float64 `json:"voltage,omitempty"`
	Current *float64 `json:"current,omitempty"`
	State   string   `json:"state,omitempty"`
}

// LightReading is a light's reported state.
type LightReading struct {
	State      string `json:"state"`
	Brightness *int   `json:"brightness,omitempty"`
	ColorTemp  *int   `json:"color_temp,omitempty"`
}

// On reports whether the light is switched on.
func (r LightReading) On() bool { return r.State == "ON" }

// ClimateReading is a temperature/humidity sensor report.
type ClimateReading struct {
	Temperature float64  `json:"temperature"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Battery     *int     `json:"battery,omitempty"`
}

// PresenceReading is an occupancy sensor report.
type PresenceReading struct {
	Presence bool   `json:"presence"`
	Movement string `json:"movement,omitempty"`
}

// ButtonReading is a remote or wall switch action.
type ButtonReading struct {
	Action string `json:"action"`
}

func (DoorReading) Class() Class     { return ClassDoorSensor }
func (PowerReading) Class() Class    { return ClassSmartSwitch }
func (LightReading) Class() Class    { return ClassLight }
func (ClimateReading) Class() Class  { return ClassTemperatureSensor }
func (PresenceReading) Class() Class { return ClassPresenceSensor }
func (ButtonReading) Class() Class   { return ClassControlSwitch }

func (DoorReading) reading()     {}
func (PowerReading) reading()    {}
func (LightReading) reading()    {}
func (ClimateReading) reading()  {}
func (PresenceReading) reading() {}
func (ButtonReading) reading()   {}

// CommandAction is an abstract device command.
type CommandAction string

const (
	ActionOn                  CommandAction = "on"
	ActionOff                 CommandAction = "off"
	ActionToggle              CommandAction = "toggle"
	ActionBrightnessMove      CommandAction = "brightness_move"
	ActionBrightnessMoveOnOff CommandAction = "brightness_move_onoff"
	ActionColorTempMove       CommandAction = "color_temp_move"
	ActionSetBrightness       CommandAction = "set_brightness"
)

// ValidActions lists every supported command action.
var ValidActions = []CommandAction{
	ActionOn,
	ActionOff,
	ActionToggle,
	ActionBrightnessMove,
	ActionBrightnessMoveOnOff,
	ActionColorTempMove,
	ActionSetBrightness,
}

// Command asks a device-class pool to act on one device.
type Command struct {
	IEEE          string        `json:"ieee"`
	Action        CommandAction `json:"action"`
	Value         int           `json:"value,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

// PowerState answers a PowerQuery. Known is false when the device has
// never reported.
type PowerState struct {
	On    bool
	Known bool
}

// PowerQuery asks an actor whether a device is on. Exactly one reply is sent.
type PowerQuery struct {
	IEEE  string
	Reply chan<- PowerState
}

// Message is the job type accepted by every device-class pool and state
// actor. Exactly one field is set.
type Message struct {
	Event   *Event
	Command *Command
	Query   *PowerQuery
}

// RouteKey keys pool routing by device so one device's messages stay ordered.
func (m Message) RouteKey() string {
	switch {
	case m.Event != nil:
		return m.Event.IEEE
	case m.Command != nil:
		return m.Command.IEEE
	case m.Query != nil:
		return m.Query.IEEE
	}
	return ""
}
