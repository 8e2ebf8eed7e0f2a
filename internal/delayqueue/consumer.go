package delayqueue

import (
	"context"
	"errors"
	"time"
)

// Handler processes one leased job. Returning nil archives it; returning
// an error leaves it to reappear after the visibility timeout.
type Handler[T any] func(ctx context.Context, msg *Message[T]) error

// Logger is the logging subset used by Consumer.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Consumer polls a queue and hands ready jobs to a handler.
type Consumer[T any] struct {
	Queue             *Queue[T]
	Handler           Handler[T]
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	Logger            Logger
}

// Run drains ready jobs, then sleeps for PollInterval, until ctx is done.
// Storage errors are logged and retried on the next tick. Run returns
// ctx.Err() on shutdown.
func (c *Consumer[T]) Run(ctx context.Context) error {
	log := c.Logger
	if log == nil {
		log = noopLogger{}
	}

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		for c.step(ctx, log) {
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// step handles at most one job and reports whether another may be ready.
func (c *Consumer[T]) step(ctx context.Context, log Logger) bool {
	if ctx.Err() != nil {
		return false
	}

	msg, err := c.Queue.Lease(ctx, c.VisibilityTimeout)
	switch {
	case errors.Is(err, ErrDecode):
		// Retrying cannot fix a payload that does not decode.
		log.Error("dropping undecodable job", "queue", c.Queue.Name(), "msg_id", msg.ID, "error", err)
		c.archive(ctx, log, msg.ID)
		return true
	case err != nil:
		log.Warn("lease failed", "queue", c.Queue.Name(), "error", err)
		return false
	case msg == nil:
		return false
	}

	if err := c.Handler(ctx, msg); err != nil {
		log.Warn("job handler failed, will retry after visibility timeout",
			"queue", c.Queue.Name(),
			"msg_id", msg.ID,
			"read_ct", msg.ReadCount,
			"error", err,
		)
		return true
	}

	c.archive(ctx, log, msg.ID)
	return true
}

func (c *Consumer[T]) archive(ctx context.Context, log Logger, id int64) {
	ok, err := c.Queue.Archive(ctx, id)
	if err != nil {
		log.Warn("archive failed, job will be redelivered", "queue", c.Queue.Name(), "msg_id", id, "error", err)
		return
	}
	if !ok {
		log.Debug("job already archived", "queue", c.Queue.Name(), "msg_id", id)
	}
}
