package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homegateway/internal/actor"
)

func fastConfig() Config {
	return Config{
		RestartDelay:       2 * time.Millisecond,
		MaxRestartDelay:    10 * time.Millisecond,
		StableThreshold:    time.Hour,
		MaxRestartAttempts: 5,
	}
}

func newSystem(t *testing.T) *actor.System {
	t.Helper()
	sys := actor.NewSystem(context.Background(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	})
	return sys
}

// crashable spawns a singleton that fails on "crash" and counts its starts.
func crashable(sys *actor.System, name string, starts *atomic.Int32) ChildSpec {
	return ChildSpec{
		Name: name,
		Start: func(context.Context) (actor.Process, error) {
			starts.Add(1)
			ref, err := actor.Spawn[string](sys, name, actor.HandlerFunc[string](
				func(_ context.Context, _ *actor.Ref[string], msg string) error {
					if msg == "crash" {
						return errors.New("sensor decode exploded")
					}
					return nil
				}))
			if err != nil {
				return nil, err
			}
			return ref, nil
		},
	}
}

func stop(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestNew_RejectsBadSpecs(t *testing.T) {
	noop := func(context.Context) (actor.Process, error) { return nil, nil }

	_, err := New(Config{}, ChildSpec{Name: "", Start: noop})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = New(Config{}, ChildSpec{Name: "a"})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = New(Config{}, ChildSpec{Name: "a", Start: noop}, ChildSpec{Name: "a", Start: noop})
	assert.ErrorIs(t, err, ErrDuplicateChild)
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().RestartDelay, s.config.RestartDelay)
	assert.Equal(t, DefaultConfig().MaxRestartDelay, s.config.MaxRestartDelay)
	assert.Equal(t, DefaultConfig().StableThreshold, s.config.StableThreshold)
}

func TestBackoff(t *testing.T) {
	s, err := New(Config{RestartDelay: 100 * time.Millisecond, MaxRestartDelay: time.Second})
	require.NoError(t, err)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{64, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRestartsCrashedChildUnderSameName(t *testing.T) {
	sys := newSystem(t)
	var starts atomic.Int32
	var restarts []string
	var mu sync.Mutex

	cfg := fastConfig()
	cfg.OnRestart = func(name string, attempt int, cause error) {
		mu.Lock()
		restarts = append(restarts, name)
		mu.Unlock()
		assert.Equal(t, 1, attempt)
		assert.EqualError(t, cause, "sensor decode exploded")
	}
	s, err := New(cfg, crashable(sys, "door-armed", &starts))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	first, err := actor.Lookup[string](sys, "door-armed")
	require.NoError(t, err)
	require.NoError(t, first.Send("crash"))

	require.Eventually(t, func() bool {
		ref, err := actor.Lookup[string](sys, "door-armed")
		return err == nil && ref.ID() != first.ID()
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		st := s.Stats()[0]
		return st.Status == StatusRunning && st.RestartCount == 1
	}, time.Second, time.Millisecond)

	st := s.Stats()[0]
	assert.Equal(t, "sensor decode exploded", st.LastError)
	assert.Equal(t, int32(2), starts.Load())
	mu.Lock()
	assert.Equal(t, []string{"door-armed"}, restarts)
	mu.Unlock()
}

func TestNormalExitIsNotRestarted(t *testing.T) {
	sys := newSystem(t)
	var starts atomic.Int32
	s, err := New(fastConfig(), crashable(sys, "reminder", &starts))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	ref, err := actor.Lookup[string](sys, "reminder")
	require.NoError(t, err)
	ref.Stop()

	require.Eventually(t, func() bool {
		return s.Stats()[0].Status == StatusStopped
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), starts.Load())
}

func TestRestartCeiling(t *testing.T) {
	var starts atomic.Int32
	cfg := fastConfig()
	cfg.MaxRestartAttempts = 2

	s, err := New(cfg, ChildSpec{
		Name: "appliance-state",
		Start: func(context.Context) (actor.Process, error) {
			starts.Add(1)
			return nil, errors.New("database is locked")
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer stop(t, s)

	require.Eventually(t, func() bool {
		return s.Stats()[0].Status == StatusFailed
	}, time.Second, time.Millisecond)

	st := s.Stats()[0]
	assert.Equal(t, int32(3), starts.Load(), "initial start plus two restarts")
	assert.Equal(t, 0, st.RestartCount)
	assert.Equal(t, 3, st.ConsecutiveFailures)
	assert.Contains(t, st.LastError, "database is locked")
}

func TestResetIfStable(t *testing.T) {
	c := &child{failures: 4, startTime: time.Now().Add(-time.Minute)}
	c.resetIfStable(time.Hour)
	assert.Equal(t, 4, c.failures)

	c.resetIfStable(30 * time.Second)
	assert.Equal(t, 0, c.failures)
}

type fakeProc struct {
	name   string
	done   chan struct{}
	once   sync.Once
	onStop func(string)
}

func newFakeProc(name string, onStop func(string)) *fakeProc {
	return &fakeProc{name: name, done: make(chan struct{}), onStop: onStop}
}

func (p *fakeProc) Name() string          { return p.name }
func (p *fakeProc) ID() uint64            { return 0 }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) Err() error            { return nil }
func (p *fakeProc) Kill(error)            { p.Stop() }
func (p *fakeProc) Stop() {
	p.once.Do(func() {
		p.onStop(p.name)
		close(p.done)
	})
}

func TestStop_ReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	var specs []ChildSpec
	for _, name := range []string{"dispatcher", "door-sensor", "workflow"} {
		specs = append(specs, ChildSpec{
			Name: name,
			Start: func(context.Context) (actor.Process, error) {
				return newFakeProc(name, record), nil
			},
		})
	}

	s, err := New(fastConfig(), specs...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		for _, st := range s.Stats() {
			if st.Status != StatusRunning {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)

	stop(t, s)
	assert.Equal(t, []string{"workflow", "door-sensor", "dispatcher"}, order)
	for _, st := range s.Stats() {
		assert.Equal(t, StatusStopped, st.Status)
	}
}

func TestStop_DuringRestartStopsReplacement(t *testing.T) {
	sys := newSystem(t)
	restarting := make(chan struct{})
	release := make(chan struct{})
	replaced := make(chan actor.Process, 1)
	var starts atomic.Int32

	spec := ChildSpec{
		Name: "appliance-state",
		Start: func(context.Context) (actor.Process, error) {
			if starts.Add(1) > 1 {
				close(restarting)
				<-release
			}
			ref, err := actor.Spawn[string](sys, "appliance-state", actor.HandlerFunc[string](
				func(_ context.Context, _ *actor.Ref[string], msg string) error {
					if msg == "crash" {
						return errors.New("state store gone")
					}
					return nil
				}))
			if err != nil {
				return nil, err
			}
			if starts.Load() > 1 {
				replaced <- ref
			}
			return ref, nil
		},
	}
	s, err := New(fastConfig(), spec)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, actor.Send(sys, "appliance-state", "crash"))
	select {
	case <-restarting:
	case <-time.After(time.Second):
		t.Fatal("child was not restarted")
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		stopped <- s.Stop(ctx)
	}()
	require.Eventually(t, s.children[0].stopping, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	proc := <-replaced
	select {
	case <-proc.Done():
	case <-time.After(time.Second):
		t.Fatal("replacement started during Stop is still running")
	}
	assert.Equal(t, StatusStopped, s.Stats()[0].Status)
	assert.Eventually(t, func() bool {
		_, err := actor.Lookup[string](sys, "appliance-state")
		return err != nil
	}, time.Second, time.Millisecond)
}
