package actor

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Actor handles messages of type M one at a time.
//
// In a singleton actor a returned error (or a panic) ends the actor; its
// supervisor decides whether to start a replacement. Pool workers log the
// error and carry on with the next job.
type Actor[M any] interface {
	Handle(ctx context.Context, self *Ref[M], msg M) error
}

// Initializer is implemented by actors that need setup before their first
// message, such as hydrating state from storage or arming timers. An error
// ends the actor before it handles anything.
type Initializer[M any] interface {
	Init(ctx context.Context, self *Ref[M]) error
}

// HandlerFunc adapts a function to the Actor interface.
type HandlerFunc[M any] func(ctx context.Context, self *Ref[M], msg M) error

// Handle calls f.
func (f HandlerFunc[M]) Handle(ctx context.Context, self *Ref[M], msg M) error {
	return f(ctx, self, msg)
}

// Process is the type-erased view of a running actor used by the registry
// and by supervisors.
type Process interface {
	Name() string
	ID() uint64
	Done() <-chan struct{}
	Err() error
	Stop()
	Kill(reason error)
}

var nextID atomic.Uint64

// Ref is a handle to a running actor or worker pool. It is only valid for
// the lifetime of that actor; after a restart the replacement has a new Ref
// under the same name.
type Ref[M any] struct {
	name   string
	id     uint64
	boxes  []*mailbox[M]
	route  func(M) string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	processed atomic.Uint64
}

func newRef[M any](parent context.Context, name string, boxes int, route func(M) string) *Ref[M] {
	ctx, cancel := context.WithCancel(parent)
	r := &Ref[M]{
		name:   name,
		id:     nextID.Add(1),
		route:  route,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for range boxes {
		r.boxes = append(r.boxes, newMailbox[M]())
	}
	return r
}

// Name returns the registered name, or "" for anonymous actors.
func (r *Ref[M]) Name() string { return r.name }

// ID is unique per spawned actor, so a restarted actor never shares it.
func (r *Ref[M]) ID() uint64 { return r.id }

// Done is closed once every worker has exited.
func (r *Ref[M]) Done() <-chan struct{} { return r.done }

// Err returns the exit reason: nil for a normal stop, the failure otherwise.
// It is only meaningful after Done is closed.
func (r *Ref[M]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Processed counts messages handled so far.
func (r *Ref[M]) Processed() uint64 { return r.processed.Load() }

// QueueLen returns the number of messages waiting.
func (r *Ref[M]) QueueLen() int {
	n := 0
	for _, b := range r.boxes {
		n += b.len()
	}
	return n
}

// Send enqueues msg without blocking. It returns ErrStopped once the actor
// has begun shutting down.
func (r *Ref[M]) Send(msg M) error {
	box := r.boxes[0]
	if len(r.boxes) > 1 {
		h := fnv.New32a()
		h.Write([]byte(r.route(msg))) //nolint:errcheck // fnv never fails
		box = r.boxes[h.Sum32()%uint32(len(r.boxes))]
	}
	if r.ctx.Err() != nil || !box.push(msg) {
		return ErrStopped
	}
	return nil
}

// Stop asks the actor to exit normally after handling what is already queued.
func (r *Ref[M]) Stop() {
	for _, b := range r.boxes {
		b.close()
	}
}

// Kill ends the actor immediately with reason as its exit error. Queued
// messages are dropped. A nil reason records ErrKilled.
func (r *Ref[M]) Kill(reason error) {
	if reason == nil {
		reason = ErrKilled
	}
	r.fail(reason)
}

// fail records the first failure and tears the actor down.
func (r *Ref[M]) fail(err error) {
	r.mu.Lock()
	if r.err == nil && !r.isDone() {
		r.err = err
	}
	r.mu.Unlock()
	for _, b := range r.boxes {
		b.close()
	}
	r.cancel()
}

func (r *Ref[M]) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// handle runs one message with panic recovery.
func (r *Ref[M]) handle(a Actor[M], msg M) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	err = a.Handle(r.ctx, r, msg)
	r.processed.Add(1)
	return err
}

func (r *Ref[M]) init(a Actor[M]) (err error) {
	in, ok := a.(Initializer[M])
	if !ok {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return in.Init(r.ctx, r)
}
