// Package trigger runs the device pools whose events start workflows:
// the control-switch pool maps button actions to workflows and the
// presence-sensor pool maps occupancy changes to workflows.
//
// Both pools route by IEEE address, so every report from one device is
// handled by the same worker in arrival order.
package trigger
