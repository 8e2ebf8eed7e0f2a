// Package light runs the light device-class pool.
//
// Workers record reported light state, turn abstract commands into
// set-topic payloads and answer power queries from the stored state.
// Commands for a light whose friendly name is not yet known are logged
// and skipped.
package light
