// Package workflow runs short, statically defined automation scripts.
//
// A workflow is an ordered list of steps. A command step sends a
// device.Command to a registered device pool, optionally guarded by a live
// power-state condition. An if step runs nested steps only while its
// condition holds. A notify step raises a notification.
//
// Conditions are evaluated at execution time with actor.AskName against
// the pool or state actor named in the condition, bounded by the engine's
// ask timeout. A query that times out or targets an unregistered name
// aborts that step only; the walk continues with the next sibling.
//
// Definitions live as YAML or JSON files in a directory. The Registry
// loads them at startup and, when watching, reloads on change.
//
// Execution is asynchronous: Submit hands a Job to the engine pool and
// returns an execution id immediately. Each run is summarised in the log
// and on the "workflow.executed" websocket channel.
package workflow
