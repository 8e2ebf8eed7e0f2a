package door

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/notify"
)

// Derived turns raw contact readings into persisted open/closed
// transitions. Repeats of the current state are suppressed, as is any
// change arriving within MinInterval of the previous one.
type Derived struct {
	deps       Deps
	state      map[string]string
	lastChange map[string]time.Time
}

// StartDerived spawns the derived door actor and joins it to GroupName.
func StartDerived(deps Deps) (*actor.Ref[Msg], error) {
	deps = deps.withDefaults()
	ref, err := actor.Spawn[Msg](deps.System, DerivedName, &Derived{deps: deps})
	if err != nil {
		return nil, err
	}
	deps.System.Join(GroupName, ref)
	return ref, nil
}

// Init seeds state from the latest persisted transition per door.
func (d *Derived) Init(ctx context.Context, _ *actor.Ref[Msg]) error {
	latest, err := d.deps.States.LatestStates(ctx, device.ClassDoorSensor)
	if err != nil {
		return fmt.Errorf("loading door states: %w", err)
	}
	d.state = make(map[string]string, len(latest))
	d.lastChange = make(map[string]time.Time)
	for ieee, ls := range latest {
		d.state[ieee] = ls.State
	}
	d.deps.Logger.Info("door states loaded", "doors", len(latest))
	return nil
}

// Handle applies one door event.
func (d *Derived) Handle(ctx context.Context, _ *actor.Ref[Msg], msg Msg) error {
	var next string
	switch msg.Kind {
	case Opened:
		next = StateOpen
	case Closed:
		next = StateClosed
	default:
		return nil
	}

	now := d.deps.Now()
	if last, ok := d.lastChange[msg.IEEE]; ok && now.Sub(last) < d.deps.MinInterval {
		d.deps.Logger.Debug("door event too soon after last change, ignored", "ieee", msg.IEEE)
		return nil
	}
	if cur, ok := d.state[msg.IEEE]; ok && cur == next {
		return nil
	}

	t := device.Transition{
		Class:         device.ClassDoorSensor,
		IEEE:          msg.IEEE,
		State:         next,
		CorrelationID: msg.CorrelationID,
		At:            now,
	}
	if err := d.deps.States.RecordTransition(ctx, t); err != nil {
		return fmt.Errorf("recording door transition: %w", err)
	}
	d.state[msg.IEEE] = next
	d.lastChange[msg.IEEE] = now

	if d.deps.Telemetry != nil {
		d.deps.Telemetry.WriteTransition(string(t.Class), t.IEEE, t.State, t.At)
	}
	if d.deps.Hub != nil {
		d.deps.Hub.Broadcast(notify.ChannelStateChanges, t)
	}
	d.deps.Logger.Info("door state changed", "door", d.deps.name(msg.IEEE), "state", next)
	return nil
}

// State returns the current state of a door, for tests and diagnostics.
func (d *Derived) State(ieee string) (string, bool) {
	s, ok := d.state[ieee]
	return s, ok
}
