package device

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// modelClasses maps the bridge's model identifiers to the class whose
// shape they report.
var modelClasses = map[string]Class{
	"MCCGQ12LM":     ClassDoorSensor,
	"TS011F_plug_1": ClassSmartSwitch,
	"9290012573A":   ClassLight,
	"LED2201G8":     ClassLight,
	"ZNLDP13LM":     ClassLight,
	"WSDCGQ11LM":    ClassTemperatureSensor,
	"WSDCGQ12LM":    ClassTemperatureSensor,
	"E2112":         ClassTemperatureSensor,
	"FP1E":          ClassPresenceSensor,
	"WXKG11LM":      ClassControlSwitch,
	"E2001":         ClassControlSwitch,
}

// ClassForModel returns the class for a known model.
func ClassForModel(model string) (Class, bool) {
	c, ok := modelClasses[model]
	return c, ok
}

type envelope struct {
	Device *struct {
		FriendlyName string `json:"friendlyName"`
		IEEEAddr     string `json:"ieeeAddr"`
		Model        string `json:"model"`
	} `json:"device"`
}

// Decode parses a device message against the closed set of known shapes
// and assigns it a fresh correlation id.
//
// Parameters:
//   - topic: Topic the payload arrived on (stored for reference only)
//   - payload: Raw JSON message including the bridge's "device" block
//   - at: Receive time
//
// Returns:
//   - *Event: Decoded event
//   - error: wraps ErrDecode, ErrUnknownModel or ErrMissingField
func Decode(topic string, payload []byte, at time.Time) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if env.Device == nil {
		return nil, fmt.Errorf("%w: device", ErrMissingField)
	}
	if env.Device.IEEEAddr == "" {
		return nil, fmt.Errorf("%w: device.ieeeAddr", ErrMissingField)
	}

	class, ok := modelClasses[env.Device.Model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, env.Device.Model)
	}

	reading, err := decodeReading(class, payload)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", class, err)
	}

	return &Event{
		CorrelationID: uuid.New(),
		Topic:         topic,
		Class:         class,
		IEEE:          env.Device.IEEEAddr,
		FriendlyName:  env.Device.FriendlyName,
		Model:         env.Device.Model,
		Reading:       reading,
		Raw:           json.RawMessage(payload),
		ReceivedAt:    at.UTC(),
	}, nil
}

func decodeReading(class Class, payload []byte) (Reading, error) {
	switch class {
	case ClassDoorSensor:
		var m struct {
			Contact *bool `json:"contact"`
			Battery *int  `json:"battery"`
		}
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if m.Contact == nil {
			return nil, fmt.Errorf("%w: contact", ErrMissingField)
		}
		return DoorReading{Contact: *m.Contact, Battery: m.Battery}, nil

	case ClassSmartSwitch:
		var m struct {
			Power   *float64 `json:"power"`
			Energy  *float64 `json:"energy"`
			Voltage *float64 `json:"voltage"`
			Current *float64 `json:"current"`
			State   string   `json:"state"`
		}
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if m.Power == nil {
			return nil, fmt.Errorf("%w: power", ErrMissingField)
		}
		return PowerReading{Power: *m.Power, Energy: m.Energy, Voltage: m.Voltage, Current: m.Current, State: m.State}, nil

	case ClassLight:
		var m struct {
			State      *string `json:"state"`
			Brightness *int    `json:"brightness"`
			ColorTemp  *int    `json:"color_temp"`
		}
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if m.State == nil {
			return nil, fmt.Errorf("%w: state", ErrMissingField)
		}
		return LightReading{State: *m.State, Brightness: m.Brightness, ColorTemp: m.ColorTemp}, nil

	case ClassTemperatureSensor:
		var m struct {
			Temperature *float64 `json:"temperature"`
			Humidity    *float64 `json:"humidity"`
			Pressure    *float64 `json:"pressure"`
			Battery     *int     `json:"battery"`
		}
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if m.Temperature == nil {
			return nil, fmt.Errorf("%w: temperature", ErrMissingField)
		}
		return ClimateReading{Temperature: *m.Temperature, Humidity: m.Humidity, Pressure: m.Pressure, Battery: m.Battery}, nil

	case ClassPresenceSensor:
		var m struct {
			Presence *bool  `json:"presence"`
			Movement string `json:"movement"`
		}
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if m.Presence == nil {
			return nil, fmt.Errorf("%w: presence", ErrMissingField)
		}
		return PresenceReading{Presence: *m.Presence, Movement: m.Movement}, nil

	case ClassControlSwitch:
		var m struct {
			Action *string `json:"action"`
		}
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if m.Action == nil {
			return nil, fmt.Errorf("%w: action", ErrMissingField)
		}
		return ButtonReading{Action: *m.Action}, nil
	}
	return nil, fmt.Errorf("%w: class %s", ErrDecode, class)
}

// BridgeDevice is one entry of the bridge's device list snapshot.
type BridgeDevice struct {
	IEEEAddress  string `json:"ieee_address"`
	FriendlyName string `json:"friendly_name"`
	Type         string `json:"type"`
}

// DecodeBridgeDevices parses a device directory snapshot. Entries without
// an address or name are skipped.
func DecodeBridgeDevices(payload []byte) ([]BridgeDevice, error) {
	var all []BridgeDevice
	if err := json.Unmarshal(payload, &all); err != nil {
		return nil, fmt.Errorf("%w: bridge devices: %w", ErrDecode, err)
	}
	out := all[:0]
	for _, d := range all {
		if d.IEEEAddress == "" || d.FriendlyName == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
