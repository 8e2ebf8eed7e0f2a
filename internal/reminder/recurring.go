package reminder

import (
	"context"
	"fmt"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/nerrad567/homegateway/internal/actor"
)

// Entry is a recurring reminder: Schedule is a standard five-field cron
// expression.
type Entry struct {
	Schedule string
	Message  string
}

// Recurring fires configured reminders on their cron schedules by
// sending Trigger messages to the reminder actor.
type Recurring struct {
	cron   *rcron.Cron
	logger Logger
}

// NewRecurring parses every entry up front so a bad expression fails at
// startup.
func NewRecurring(sys *actor.System, entries []Entry, loc *time.Location, logger Logger) (*Recurring, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	if loc == nil {
		loc = time.Local
	}
	c := rcron.New(rcron.WithLocation(loc))
	for i, e := range entries {
		message := e.Message
		_, err := c.AddFunc(e.Schedule, func() {
			err := actor.Send(sys, Name, Msg{Trigger: &Trigger{Message: message, Scheduled: true}})
			if err != nil {
				logger.Error("scheduled reminder not delivered", "message", message, "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("reminder %d schedule %q: %w", i, e.Schedule, err)
		}
	}
	return &Recurring{cron: c, logger: logger}, nil
}

// Len returns the number of scheduled entries.
func (r *Recurring) Len() int { return len(r.cron.Entries()) }

// Next returns the earliest fire time after now, or the zero time when
// nothing is scheduled.
func (r *Recurring) Next(now time.Time) time.Time {
	var next time.Time
	for _, e := range r.cron.Entries() {
		t := e.Schedule.Next(now)
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// Run starts the schedule and blocks until ctx is done, then waits for
// running jobs to finish.
func (r *Recurring) Run(ctx context.Context) error {
	r.cron.Start()
	r.logger.Info("recurring reminders started", "entries", r.Len())
	<-ctx.Done()
	<-r.cron.Stop().Done()
	return nil
}
