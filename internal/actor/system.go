package actor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger is the logging subset used by the runtime.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// System owns the process registry and process groups.
//
// Names are looked up at send time rather than cached, because an actor
// restarted by its supervisor comes back with a new Ref under the old name.
// Exited actors are removed from the registry and from every group.
type System struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    Logger

	mu     sync.RWMutex
	names  map[string]Process
	groups map[string]map[uint64]Process
	live   map[uint64]Process
}

// NewSystem creates an empty system. Cancelling ctx kills every actor.
func NewSystem(ctx context.Context, logger Logger) *System {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &System{
		ctx:    ctx,
		cancel: cancel,
		log:    logger,
		names:  make(map[string]Process),
		groups: make(map[string]map[uint64]Process),
		live:   make(map[uint64]Process),
	}
}

// Whereis returns the live process registered under name.
func (s *System) Whereis(name string) (Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.names[name]
	return p, ok
}

// Registered lists the names currently held.
func (s *System) Registered() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	return out
}

// Join adds p to group. Membership ends automatically when p exits.
func (s *System) Join(group string, p Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, alive := s.live[p.ID()]; !alive {
		return
	}
	members, ok := s.groups[group]
	if !ok {
		members = make(map[uint64]Process)
		s.groups[group] = members
	}
	members[p.ID()] = p
}

// Leave removes p from group.
func (s *System) Leave(group string, p Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups[group], p.ID())
}

// Members returns the processes currently in group.
func (s *System) Members(group string) []Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Process, 0, len(s.groups[group]))
	for _, p := range s.groups[group] {
		out = append(out, p)
	}
	return out
}

// Shutdown kills every actor and waits for them to exit or for ctx to end.
func (s *System) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.RLock()
	procs := make([]Process, 0, len(s.live))
	for _, p := range s.live {
		procs = append(procs, p)
	}
	s.mu.RUnlock()

	for _, p := range procs {
		select {
		case <-p.Done():
		case <-ctx.Done():
			return fmt.Errorf("actor system shutdown: %w", ctx.Err())
		}
	}
	return nil
}

func (s *System) register(p Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return ErrStopped
	}
	if name := p.Name(); name != "" {
		if _, taken := s.names[name]; taken {
			return fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
		s.names[name] = p
	}
	s.live[p.ID()] = p
	return nil
}

func (s *System) unregister(p Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.names[p.Name()]; ok && cur.ID() == p.ID() {
		delete(s.names, p.Name())
	}
	for _, members := range s.groups {
		delete(members, p.ID())
	}
	delete(s.live, p.ID())
}

// Spawn starts a singleton actor. A non-empty name is registered for the
// actor's lifetime; spawning under a name held by a live actor fails with
// ErrNameTaken.
func Spawn[M any](s *System, name string, a Actor[M]) (*Ref[M], error) {
	ref := newRef[M](s.ctx, name, 1, nil)
	if err := s.register(ref); err != nil {
		ref.cancel()
		return nil, err
	}

	go func() {
		defer s.exit(ref)

		if err := ref.init(a); err != nil {
			ref.fail(fmt.Errorf("init: %w", err))
			return
		}
		for {
			msg, ok := ref.boxes[0].pop(ref.ctx)
			if !ok {
				return
			}
			if err := ref.handle(a, msg); err != nil {
				ref.fail(err)
				return
			}
		}
	}()
	return ref, nil
}

func (s *System) exit(p interface {
	Process
	markDone()
}) {
	s.unregister(p)
	p.markDone()
	if err := p.Err(); err != nil {
		s.log.Debug("actor exited", "name", p.Name(), "error", err)
	}
}

func (r *Ref[M]) markDone() {
	r.cancel()
	close(r.done)
}

// Lookup resolves name to a typed Ref.
func Lookup[M any](s *System, name string) (*Ref[M], error) {
	p, ok := s.Whereis(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	ref, ok := p.(*Ref[M])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, name)
	}
	return ref, nil
}

// Send resolves name and delivers msg to it.
func Send[M any](s *System, name string, msg M) error {
	ref, err := Lookup[M](s, name)
	if err != nil {
		return err
	}
	return ref.Send(msg)
}

// Broadcast sends msg to every member of group that accepts M and returns
// how many received it.
func Broadcast[M any](s *System, group string, msg M) int {
	n := 0
	for _, p := range s.Members(group) {
		if ref, ok := p.(*Ref[M]); ok && ref.Send(msg) == nil {
			n++
		}
	}
	return n
}

// SendAfter delivers msg to ref once d has elapsed. The timer lives in
// memory only; it is lost if the process exits. Stop the returned timer to
// cancel delivery.
func SendAfter[M any](ref *Ref[M], d time.Duration, msg M) *time.Timer {
	return time.AfterFunc(d, func() {
		_ = ref.Send(msg) //nolint:errcheck // target may have exited
	})
}
