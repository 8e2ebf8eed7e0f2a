// Package influxdb records device telemetry: smart plug power samples,
// temperature readings and derived state transitions.
//
// Writes are batched and non-blocking. When telemetry is disabled Connect
// returns ErrDisabled and callers keep a nil *Client, which silently drops
// writes.
package influxdb
