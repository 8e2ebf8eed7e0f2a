package door

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/notify"
)

// Armed alerts when an armed door stays open past its timeout.
//
// Opening an armed door schedules an in-memory Trigger. A Trigger that
// finds the door still open sends a notification unless one was sent for
// that door within QuietWindow; either way the trigger time is recorded.
// Timers are lost if the actor restarts.
type Armed struct {
	deps        Deps
	open        map[string]bool
	lastTrigger map[string]time.Time
}

// StartArmed spawns the armed door actor and joins it to GroupName.
func StartArmed(deps Deps) (*actor.Ref[Msg], error) {
	deps = deps.withDefaults()
	a := &Armed{
		deps:        deps,
		open:        make(map[string]bool),
		lastTrigger: make(map[string]time.Time),
	}
	ref, err := actor.Spawn[Msg](deps.System, ArmedName, a)
	if err != nil {
		return nil, err
	}
	deps.System.Join(GroupName, ref)
	return ref, nil
}

// Handle applies one door event.
func (a *Armed) Handle(ctx context.Context, self *actor.Ref[Msg], msg Msg) error {
	switch msg.Kind {
	case Opened:
		a.open[msg.IEEE] = true
		if s, ok := a.deps.Doors[msg.IEEE]; ok && s.OpenTimeout > 0 {
			actor.SendAfter(self, s.OpenTimeout, Msg{Kind: Trigger, IEEE: msg.IEEE, CorrelationID: msg.CorrelationID})
		}

	case Closed:
		a.open[msg.IEEE] = false

	case Trigger:
		open, known := a.open[msg.IEEE]
		if !known {
			a.deps.Logger.Warn("trigger for door with unknown state", "ieee", msg.IEEE)
			return nil
		}
		if !open {
			return nil
		}

		now := a.deps.Now()
		last, seen := a.lastTrigger[msg.IEEE]
		a.lastTrigger[msg.IEEE] = now
		if seen && now.Sub(last) <= a.deps.QuietWindow {
			a.deps.Logger.Info("open door alert de-duplicated", "ieee", msg.IEEE)
			return nil
		}

		name := a.deps.name(msg.IEEE)
		err := a.deps.Notifier.Notify(ctx, notify.Notification{
			Title:         "Door left open",
			Message:       fmt.Sprintf("%s has been left open.", name),
			CorrelationID: msg.CorrelationID,
		})
		if err != nil {
			a.deps.Logger.Warn("open door notification failed", "door", name, "error", err)
		}
	}
	return nil
}
