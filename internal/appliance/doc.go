// Package appliance infers whether metered appliances are running.
//
// Smart plugs report power and current. The smart-switch pool stores each
// reading and forwards it to a single state actor, which keeps a trailing
// average of the current per plug and applies on/off hysteresis using the
// plug's configured thresholds in amps. A plug that drops below its off threshold raises
// a "has turned off" notification, which is how a washing machine or
// dishwasher announces it has finished.
//
// The state actor also answers device.PowerQuery requests so workflow
// guards can ask whether an appliance is running.
package appliance
