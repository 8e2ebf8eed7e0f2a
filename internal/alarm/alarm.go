// Package alarm tracks the next wake-up alarm reported by a phone and
// runs a configured workflow ahead of it.
//
// The alarm actor stores the latest alarm time under the "next_alarm" key
// and pushes a Job onto the "alarm" delay queue, due Lead before the
// alarm. When the job comes due the actor checks it against the stored
// time, so an alarm that was moved or cleared since does not fire.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/delayqueue"
	"github.com/nerrad567/homegateway/internal/infrastructure/database"
	"github.com/nerrad567/homegateway/internal/workflow"
)

// Registered names.
const (
	Name      = "alarm"
	QueueName = "alarm"
	StateKey  = "next_alarm"
)

// KV is the key-value store the next alarm is kept in.
// *database.DB satisfies it.
type KV interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

// Workflows resolves workflow names. *workflow.Registry satisfies it.
type Workflows interface {
	Get(name string) (*workflow.Workflow, error)
}

// Job is the delay queue payload: the alarm time it was scheduled for.
type Job struct {
	AlarmAt  time.Time `json:"alarm_at"`
	Workflow string    `json:"workflow"`
}

// Msg is the alarm actor's message type. Exactly one field is set.
type Msg struct {
	Next *NextAlarm
	Fire *Job
}

// NextAlarm records a new alarm time. A zero At clears the alarm. The
// outcome is sent on Reply when it is non-nil.
type NextAlarm struct {
	At    time.Time
	Reply chan<- error
}

// Logger defines the logging interface for the alarm components.
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

// Config holds the alarm actor's dependencies.
type Config struct {
	System    *actor.System
	KV        KV
	Queue     *delayqueue.Queue[Job]
	Workflows Workflows

	// Workflow is run Lead before each alarm. Empty disables scheduling;
	// alarm times are still recorded.
	Workflow string
	Lead     time.Duration

	Logger Logger
	Now    func() time.Time
}

// Actor records alarm times and fires the alarm workflow.
type Actor struct {
	cfg Config
}

// Start spawns the alarm actor.
func Start(cfg Config) (*actor.Ref[Msg], error) {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return actor.Spawn[Msg](cfg.System, Name, &Actor{cfg: cfg})
}

// Handle records an alarm or fires a due one.
func (a *Actor) Handle(ctx context.Context, _ *actor.Ref[Msg], msg Msg) error {
	switch {
	case msg.Next != nil:
		err := a.record(ctx, msg.Next.At)
		if msg.Next.Reply != nil {
			msg.Next.Reply <- err
		}
		return err
	case msg.Fire != nil:
		return a.fire(ctx, msg.Fire)
	}
	return nil
}

func (a *Actor) record(ctx context.Context, at time.Time) error {
	if at.IsZero() {
		if err := a.cfg.KV.DeleteValue(ctx, StateKey); err != nil {
			return fmt.Errorf("clearing next alarm: %w", err)
		}
		a.cfg.Logger.Info("next alarm cleared")
		return nil
	}

	// Stored times carry microseconds; match them so fire can compare.
	at = at.UTC().Truncate(time.Microsecond)
	if err := a.cfg.KV.SetValue(ctx, StateKey, database.FormatTime(at)); err != nil {
		return fmt.Errorf("storing next alarm: %w", err)
	}
	a.cfg.Logger.Info("next alarm recorded", "at", at)

	if a.cfg.Workflow == "" {
		return nil
	}
	delay := at.Add(-a.cfg.Lead).Sub(a.cfg.Now())
	if delay < 0 {
		a.cfg.Logger.Warn("alarm lead time already passed, workflow not scheduled", "at", at)
		return nil
	}
	id, err := a.cfg.Queue.Push(ctx, Job{AlarmAt: at, Workflow: a.cfg.Workflow}, delay)
	if err != nil {
		return fmt.Errorf("scheduling alarm workflow: %w", err)
	}
	a.cfg.Logger.Info("alarm workflow scheduled", "workflow", a.cfg.Workflow, "in", delay, "msg_id", id)
	return nil
}

func (a *Actor) fire(ctx context.Context, job *Job) error {
	stored, ok, err := a.cfg.KV.GetValue(ctx, StateKey)
	if err != nil {
		return fmt.Errorf("reading next alarm: %w", err)
	}
	if !ok {
		a.cfg.Logger.Info("alarm cleared since scheduling, workflow skipped", "alarm_at", job.AlarmAt)
		return nil
	}
	current, err := database.ParseTime(stored)
	if err != nil {
		return fmt.Errorf("parsing next alarm %q: %w", stored, err)
	}
	if !current.Equal(job.AlarmAt) {
		a.cfg.Logger.Info("alarm moved since scheduling, workflow skipped",
			"alarm_at", job.AlarmAt, "current", current)
		return nil
	}

	wf, err := a.cfg.Workflows.Get(job.Workflow)
	if err != nil {
		a.cfg.Logger.Error("alarm workflow not found", "workflow", job.Workflow, "error", err)
		return nil
	}
	id, err := workflow.Submit(a.cfg.System, wf, "alarm")
	if err != nil {
		a.cfg.Logger.Error("alarm workflow not submitted", "workflow", job.Workflow, "error", err)
		return nil
	}
	a.cfg.Logger.Info("alarm workflow submitted", "workflow", job.Workflow, "execution_id", id)
	return nil
}

// Record asks the alarm actor to store at and waits for the outcome.
func Record(ctx context.Context, sys *actor.System, at time.Time, timeout time.Duration) error {
	result, err := actor.AskName(ctx, sys, Name, timeout, func(reply chan<- error) Msg {
		return Msg{Next: &NextAlarm{At: at, Reply: reply}}
	})
	if err != nil {
		return err
	}
	return result
}

// Next returns the stored alarm time.
func Next(ctx context.Context, kv KV) (time.Time, bool, error) {
	v, ok, err := kv.GetValue(ctx, StateKey)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	at, err := database.ParseTime(v)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// NewConsumer returns the consumer that hands due alarm jobs to the actor.
func NewConsumer(sys *actor.System, queue *delayqueue.Queue[Job], vt, poll time.Duration, logger Logger) *delayqueue.Consumer[Job] {
	if logger == nil {
		logger = noopLogger{}
	}
	return &delayqueue.Consumer[Job]{
		Queue:             queue,
		VisibilityTimeout: vt,
		PollInterval:      poll,
		Logger:            logger,
		Handler: func(_ context.Context, m *delayqueue.Message[Job]) error {
			job := m.Payload
			if err := actor.Send(sys, Name, Msg{Fire: &job}); err != nil {
				if errors.Is(err, actor.ErrNotRegistered) {
					logger.Warn("alarm actor unavailable, job will be redelivered", "msg_id", m.ID)
				}
				return err
			}
			return nil
		},
	}
}
