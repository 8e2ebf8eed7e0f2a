package actor

import (
	"context"
	"time"
)

// Ask sends a request built around a single-use reply channel and waits
// for the answer.
//
// The timeout bounds only the wait: the target still handles the request
// and its late reply is discarded. Ask returns ErrTimeout when the window
// elapses, ErrStopped if the target exits first, and ctx.Err() if ctx ends.
//
//	on, err := actor.Ask(ctx, lights, 10*time.Second, func(reply chan<- bool) LightMsg {
//	    return LightMsg{Query: &PowerQuery{IEEE: ieee, Reply: reply}}
//	})
func Ask[M, R any](ctx context.Context, ref *Ref[M], timeout time.Duration, build func(reply chan<- R) M) (R, error) {
	var zero R

	// Buffered so a late reply never blocks the responder.
	reply := make(chan R, 1)
	if err := ref.Send(build(reply)); err != nil {
		return zero, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return r, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-ref.Done():
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// AskName resolves name and then behaves like Ask.
func AskName[M, R any](ctx context.Context, s *System, name string, timeout time.Duration, build func(reply chan<- R) M) (R, error) {
	ref, err := Lookup[M](s, name)
	if err != nil {
		var zero R
		return zero, err
	}
	return Ask(ctx, ref, timeout, build)
}
