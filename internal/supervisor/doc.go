// Package supervisor restarts actors and worker pools that terminate
// abnormally.
//
// Children are started in order at boot and stopped in reverse order at
// shutdown. When a child exits with an error (including a recovered panic)
// the failure is logged and the child's start function is called again
// under the same registered name, after an exponential backoff:
//
//	delay = min(RestartDelay * 2^(failures-1), MaxRestartDelay)
//
// The consecutive failure count resets once a child has run for
// StableThreshold. After MaxRestartAttempts consecutive failures the child
// is left in StatusFailed.
//
// A normal exit (Stop, or system shutdown) is never restarted.
//
// Example usage:
//
//	sup, err := supervisor.New(supervisor.DefaultConfig(),
//	    supervisor.ChildSpec{Name: "appliance-state", Start: startApplianceState},
//	    supervisor.ChildSpec{Name: "dispatcher", Start: startDispatcher},
//	)
//	if err != nil {
//	    return err
//	}
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop(shutdownCtx)
package supervisor
