// Package dispatcher turns raw bus and webhook payloads into device events
// and routes them to the actor registered for each device class.
//
// Each message goes through Decode, Classify, Resolve and Dispatch:
//
//   - the bridge's device list snapshot updates the device directory inline
//   - other bridge topics and command echoes are ignored
//   - undecodable payloads are logged and dropped, never retried
//   - decoded events are stored under a fresh correlation id
//   - the target is looked up by class name at send time; if nothing is
//     registered the event is dropped with one error log
//
// The dispatcher runs as a pool. Workers share one queue, so no ordering
// is guaranteed across workers.
package dispatcher
