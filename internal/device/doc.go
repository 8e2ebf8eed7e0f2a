// Package device decodes inbound device messages and stores device state.
//
// # Key Types
//
//   - Event: a decoded message with its correlation id and class
//   - Reading: the closed set of class-specific payloads (DoorReading,
//     PowerReading, LightReading, ClimateReading, PresenceReading,
//     ButtonReading)
//   - Message: the job type every device-class pool accepts (an Event, a
//     Command or a PowerQuery)
//   - Directory: ieee address to friendly name map, written by the
//     dispatcher and read by actors through the Names interface
//   - SQLiteStateRepository: derived state history plus latest state per
//     device, used to hydrate actors on start
//   - Store: raw events and per-class readings
//
// # Decoding
//
// Payloads carry the bridge's "device" block. Its model selects the shape;
// a missing required field fails the decode with ErrMissingField and an
// unknown model with ErrUnknownModel. Decode failures are dropped by the
// caller and never retried.
//
//	ev, err := device.Decode(topic, payload, time.Now())
//	if err != nil {
//	    log.Warn("dropping undecodable message", "topic", topic, "error", err)
//	    return nil
//	}
//
// # Thread Safety
//
// Directory, Store and SQLiteStateRepository are safe for concurrent use.
package device
