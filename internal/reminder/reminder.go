package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/delayqueue"
	"github.com/nerrad567/homegateway/internal/notify"
)

// Registered names.
const (
	Name      = "reminder"
	QueueName = "reminder"
)

// MaxDelay is the furthest ahead a one-off reminder may be set.
const MaxDelay = 366 * 24 * time.Hour

// ErrInvalid is returned for an empty message or out-of-range delay.
var ErrInvalid = errors.New("reminder: invalid request")

// Job is the delay queue payload of a one-off reminder.
type Job struct {
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Msg is the reminder actor's message type. Exactly one field is set.
type Msg struct {
	Set     *SetRequest
	Trigger *Trigger
}

// SetRequest schedules a one-off reminder. The push result is sent on Reply.
type SetRequest struct {
	Message string
	Delay   time.Duration
	Reply   chan<- error
}

// Trigger delivers a reminder now.
type Trigger struct {
	Message       string
	CorrelationID string
	// Scheduled marks a recurring reminder.
	Scheduled bool
}

// Logger defines the logging interface for the reminder components.
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

// Actor owns the reminder queue's producer side and delivers reminders.
type Actor struct {
	queue    *delayqueue.Queue[Job]
	notifier notify.Notifier
	logger   Logger
	now      func() time.Time
}

// Start spawns the reminder actor.
func Start(sys *actor.System, queue *delayqueue.Queue[Job], notifier notify.Notifier, logger Logger) (*actor.Ref[Msg], error) {
	if logger == nil {
		logger = noopLogger{}
	}
	return actor.Spawn[Msg](sys, Name, &Actor{queue: queue, notifier: notifier, logger: logger, now: time.Now})
}

// Handle sets or delivers one reminder.
func (a *Actor) Handle(ctx context.Context, _ *actor.Ref[Msg], msg Msg) error {
	switch {
	case msg.Set != nil:
		err := a.set(ctx, msg.Set)
		if msg.Set.Reply != nil {
			msg.Set.Reply <- err
		}
		if errors.Is(err, ErrInvalid) {
			return nil
		}
		return err
	case msg.Trigger != nil:
		a.trigger(ctx, msg.Trigger)
	}
	return nil
}

func (a *Actor) set(ctx context.Context, req *SetRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalid)
	}
	if req.Delay < 0 || req.Delay > MaxDelay {
		return fmt.Errorf("%w: delay must be between 0 and %s", ErrInvalid, MaxDelay)
	}
	job := Job{Message: req.Message, CorrelationID: uuid.NewString(), RequestedAt: a.now().UTC()}
	id, err := a.queue.Push(ctx, job, req.Delay)
	if err != nil {
		return fmt.Errorf("queueing reminder: %w", err)
	}
	a.logger.Info("reminder set", "msg_id", id, "delay", req.Delay, "correlation_id", job.CorrelationID)
	return nil
}

func (a *Actor) trigger(ctx context.Context, t *Trigger) {
	text := fmt.Sprintf("Reminder about %q", t.Message)
	if t.Scheduled {
		text = fmt.Sprintf("Scheduled reminder about %q", t.Message)
	}
	err := a.notifier.Notify(ctx, notify.Notification{
		Title:         "Reminder",
		Message:       text,
		CorrelationID: t.CorrelationID,
	})
	if err != nil {
		a.logger.Warn("reminder notification failed", "correlation_id", t.CorrelationID, "error", err)
	}
}

// Set asks the reminder actor to schedule message after delay and waits
// for the queue write.
func Set(ctx context.Context, sys *actor.System, message string, delay, timeout time.Duration) error {
	result, err := actor.AskName(ctx, sys, Name, timeout, func(reply chan<- error) Msg {
		return Msg{Set: &SetRequest{Message: message, Delay: delay, Reply: reply}}
	})
	if err != nil {
		return err
	}
	return result
}

// NewConsumer returns the consumer that turns due queue jobs into Trigger
// messages. A job is archived only once the actor has accepted it.
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
			err := actor.Send(sys, Name, Msg{Trigger: &Trigger{
				Message:       m.Payload.Message,
				CorrelationID: m.Payload.CorrelationID,
			}})
			if err != nil {
				return fmt.Errorf("delivering reminder %d: %w", m.ID, err)
			}
			return nil
		},
	}
}
