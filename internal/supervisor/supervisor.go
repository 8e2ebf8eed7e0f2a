package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
)

// Status represents the current state of a supervised child.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusRestarting Status = "restarting"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
)

// ChildSpec describes one supervised unit: a singleton actor or a pool.
type ChildSpec struct {
	// Name is the name the child registers under. It is kept across restarts.
	Name string

	// Start spawns the child and returns its process handle. It is called
	// again, unchanged, for every restart; actors that rehydrate from
	// storage in Init come back with their last committed state.
	Start func(ctx context.Context) (actor.Process, error)
}

// Config holds restart policy.
type Config struct {
	// RestartDelay is the delay before the first restart after a failure.
	RestartDelay time.Duration

	// MaxRestartDelay caps the exponential backoff.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a child must run before its consecutive
	// failure count resets.
	StableThreshold time.Duration

	// MaxRestartAttempts is the number of consecutive failures tolerated
	// before the child is left failed. 0 means unlimited.
	MaxRestartAttempts int

	// OnRestart is called before each restart is scheduled.
	OnRestart func(name string, attempt int, cause error)
}

// DefaultConfig returns the restart policy used when none is configured.
func DefaultConfig() Config {
	return Config{
		RestartDelay:       500 * time.Millisecond,
		MaxRestartDelay:    time.Minute,
		StableThreshold:    2 * time.Minute,
		MaxRestartAttempts: 10,
	}
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor starts a fixed set of children and restarts any that
// terminate abnormally.
type Supervisor struct {
	config   Config
	logger   Logger
	children []*child

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

type child struct {
	spec ChildSpec
	done chan struct{}

	mu            sync.RWMutex
	proc          actor.Process
	status        Status
	restartCount  int
	failures      int
	lastError     error
	startTime     time.Time
	stopRequested bool
}

// New creates a supervisor for specs. Zero values in cfg take the defaults.
func New(cfg Config, specs ...ChildSpec) (*Supervisor, error) {
	def := DefaultConfig()
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(def.MaxRestartDelay, cfg.RestartDelay)
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = def.StableThreshold
	}

	s := &Supervisor{config: cfg, logger: noopLogger{}}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" || spec.Start == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSpec, spec.Name)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateChild, spec.Name)
		}
		seen[spec.Name] = true
		s.children = append(s.children, &child{spec: spec, status: StatusStopped})
	}
	return s, nil
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches every child in order and begins monitoring them.
// A child that fails to start is retried with the same backoff as a crash;
// Start itself only fails if the supervisor is already running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, c := range s.children {
		c.mu.Lock()
		c.status = StatusStarting
		c.stopRequested = false
		c.done = make(chan struct{})
		c.mu.Unlock()

		proc, err := c.spec.Start(ctx)
		go s.monitor(ctx, c, proc, err)
	}
	return nil
}

// Stop stops children in reverse start order, letting each drain its
// mailbox, and waits for them or for ctx to end.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	var stopErr error
	for i := len(s.children) - 1; i >= 0; i-- {
		c := s.children[i]
		c.mu.Lock()
		c.stopRequested = true
		proc := c.proc
		c.mu.Unlock()

		if proc == nil {
			continue
		}
		s.logger.Info("stopping child", "name", c.spec.Name)
		proc.Stop()
		select {
		case <-proc.Done():
		case <-ctx.Done():
			stopErr = fmt.Errorf("stopping %s: %w", c.spec.Name, ctx.Err())
		}
		if stopErr != nil {
			break
		}
	}

	cancel()
	for _, c := range s.children {
		select {
		case <-c.done:
		case <-ctx.Done():
			if stopErr == nil {
				stopErr = fmt.Errorf("waiting for monitors: %w", ctx.Err())
			}
			return stopErr
		}
	}
	return stopErr
}

// monitor watches one child and handles restarts.
func (s *Supervisor) monitor(ctx context.Context, c *child, proc actor.Process, startErr error) {
	defer close(c.done)

	for {
		var cause error
		if startErr != nil {
			cause = fmt.Errorf("start: %w", startErr)
		} else {
			c.running(proc)
			s.logger.Debug("child running", "name", c.spec.Name)

			select {
			case <-proc.Done():
			case <-ctx.Done():
				c.setStatus(StatusStopped)
				return
			}

			if c.stopping() {
				c.setStatus(StatusStopped)
				return
			}

			cause = proc.Err()
			if cause == nil {
				s.logger.Info("child exited normally", "name", c.spec.Name)
				c.setStatus(StatusStopped)
				return
			}
			c.resetIfStable(s.config.StableThreshold)
		}

		attempt := c.recordFailure(cause)
		s.logger.Error("child terminated abnormally",
			"name", c.spec.Name,
			"error", cause,
			"attempt", attempt,
		)

		if s.config.MaxRestartAttempts > 0 && attempt > s.config.MaxRestartAttempts {
			s.logger.Error("max restart attempts reached, giving up",
				"name", c.spec.Name,
				"attempts", attempt-1,
			)
			c.setStatus(StatusFailed)
			return
		}

		delay := s.backoff(attempt)
		s.logger.Info("restarting child",
			"name", c.spec.Name,
			"attempt", attempt,
			"delay", delay,
		)
		if s.config.OnRestart != nil {
			s.config.OnRestart(c.spec.Name, attempt, cause)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setStatus(StatusStopped)
			return
		case <-timer.C:
		}

		if c.stopping() {
			c.setStatus(StatusStopped)
			return
		}
		proc, startErr = c.spec.Start(ctx)
		if startErr == nil && c.stopping() {
			// Stop ran while the replacement was starting and never saw it.
			proc.Stop()
			c.setStatus(StatusStopped)
			return
		}
		if startErr == nil {
			c.mu.Lock()
			c.restartCount++
			c.mu.Unlock()
		}
	}
}

// backoff returns min(RestartDelay * 2^(attempt-1), MaxRestartDelay).
func (s *Supervisor) backoff(attempt int) time.Duration {
	d := s.config.RestartDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.config.MaxRestartDelay || d <= 0 {
			return s.config.MaxRestartDelay
		}
	}
	return min(d, s.config.MaxRestartDelay)
}

func (c *child) running(proc actor.Process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proc = proc
	c.status = StatusRunning
	c.startTime = time.Now()
}

func (c *child) stopping() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopRequested
}

func (c *child) setStatus(st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = st
}

func (c *child) resetIfStable(threshold time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.startTime) >= threshold {
		c.failures = 0
	}
}

// recordFailure bumps the consecutive failure count and returns it.
func (c *child) recordFailure(cause error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.lastError = cause
	c.status = StatusRestarting
	return c.failures
}

// Stats contains statistics about one supervised child.
type Stats struct {
	Name                string        `json:"name"`
	Status              Status        `json:"status"`
	RestartCount        int           `json:"restart_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Uptime              time.Duration `json:"uptime,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for every child, in start order.
func (s *Supervisor) Stats() []Stats {
	out := make([]Stats, 0, len(s.children))
	for _, c := range s.children {
		c.mu.RLock()
		st := Stats{
			Name:                c.spec.Name,
			Status:              c.status,
			RestartCount:        c.restartCount,
			ConsecutiveFailures: c.failures,
		}
		if c.status == StatusRunning {
			st.Uptime = time.Since(c.startTime)
		}
		if c.lastError != nil {
			st.LastError = c.lastError.Error()
		}
		c.mu.RUnlock()
		out = append(out, st)
	}
	return out
}
