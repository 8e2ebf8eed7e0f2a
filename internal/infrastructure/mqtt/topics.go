package mqtt

import "strings"

// StatusTopic carries the gateway's retained online/offline status.
const StatusTopic = "homegateway/status"

// DefaultBaseTopic is the device bridge's default prefix.
const DefaultBaseTopic = "zigbee2mqtt"

// Topics builds and classifies device bridge topics under a base prefix.
//
//	t := mqtt.NewTopics("zigbee2mqtt")
//	t.DeviceSet("Kitchen light") // "zigbee2mqtt/Kitchen light/set"
type Topics struct {
	Base string
}

// TopicKind classifies an inbound topic.
type TopicKind int

const (
	// KindForeign is a topic outside the base prefix.
	KindForeign TopicKind = iota
	// KindDeviceMessage is a device state report: <base>/<friendly name>.
	KindDeviceMessage
	// KindDirectory is the bridge's device list snapshot.
	KindDirectory
	// KindBridge is any other bridge housekeeping topic.
	KindBridge
	// KindDeviceControl covers <base>/<name>/set, /get and /availability echoes.
	KindDeviceControl
)

// NewTopics returns a builder for base, falling back to DefaultBaseTopic.
func NewTopics(base string) Topics {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		base = DefaultBaseTopic
	}
	return Topics{Base: base}
}

// AllDevices is the wildcard subscription covering every bridge topic.
func (t Topics) AllDevices() string {
	return t.Base + "/#"
}

// BridgeDevices is the retained device directory topic.
func (t Topics) BridgeDevices() string {
	return t.Base + "/bridge/devices"
}

// DeviceState is the topic a device reports its state on.
func (t Topics) DeviceState(friendlyName string) string {
	return t.Base + "/" + friendlyName
}

// DeviceSet is the command topic for a device.
func (t Topics) DeviceSet(friendlyName string) string {
	return t.Base + "/" + friendlyName + "/set"
}

// Classify reports what kind of message arrived on topic and, for device
// messages, the friendly name embedded in it.
func (t Topics) Classify(topic string) (TopicKind, string) {
	rest, ok := strings.CutPrefix(topic, t.Base+"/")
	if !ok || rest == "" {
		return KindForeign, ""
	}
	if topic == t.BridgeDevices() {
		return KindDirectory, ""
	}
	if strings.HasPrefix(rest, "bridge/") {
		return KindBridge, ""
	}
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		switch rest[i+1:] {
		case "set", "get", "availability":
			return KindDeviceControl, rest[:i]
		}
	}
	return KindDeviceMessage, rest
}
