// Package door derives door state from contact sensors and alerts on
// doors left open.
//
// The door-sensor pool stores each reading and broadcasts Opened or
// Closed to the "door-events" group. Two singletons listen:
//
//   - door-derived persists open/closed transitions, seeded from the
//     latest stored state on start
//   - door-armed re-arms an in-memory timer on every opening and notifies
//     if the door is still open when it fires, at most once per quiet
//     window per door
package door
