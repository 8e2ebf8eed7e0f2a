// Package actor provides the gateway's concurrency primitive: actors with a
// single ordered mailbox, worker pools sharing one queue, a name registry,
// process groups, in-memory delayed sends and request/reply with a timeout.
//
// An actor handles one message at a time, so the state it owns needs no
// locking. Other components reach actors by registered name:
//
//	sys := actor.NewSystem(ctx, logger)
//	ref, err := actor.Spawn[DoorMsg](sys, "door-armed", newArmedDoor(cfg))
//	...
//	err = actor.Send(sys, "door-armed", DoorMsg{Opened: &Opened{IEEE: ieee}})
//
// A singleton whose handler returns an error or panics exits with that
// error as its reason and is removed from the registry; restarting it is a
// supervisor's job. Pool workers survive individual job failures.
package actor
