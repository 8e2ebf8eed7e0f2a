package trigger

import (
	"context"
	"fmt"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
)

// StartPresencePool spawns the presence-sensor pool. A configured sensor
// submits its presence_detected or no_presence_detected workflow when
// its occupancy changes. Repeated reports of the same occupancy are
// ignored; the first report after a start always counts as a change.
func StartPresencePool(deps Deps, workers int) (*actor.Ref[device.Message], error) {
	deps.defaults()
	return actor.SpawnPool(deps.System, PresencePoolName, workers, func(int) actor.Actor[device.Message] {
		return &presenceWorker{deps: deps, last: make(map[string]bool)}
	}, actor.WithRouting(device.Message.RouteKey))
}

// presenceWorker keeps the last occupancy of the sensors routed to it.
type presenceWorker struct {
	deps Deps
	last map[string]bool
}

func (w *presenceWorker) Handle(_ context.Context, _ *actor.Ref[device.Message], msg device.Message) error {
	if msg.Event == nil {
		return nil
	}
	ev := msg.Event
	r, ok := ev.Reading.(device.PresenceReading)
	if !ok {
		return fmt.Errorf("presence pool got %s reading for %s", ev.Reading.Class(), ev.IEEE)
	}

	if prev, seen := w.last[ev.IEEE]; seen && prev == r.Presence {
		w.deps.Logger.Debug("presence unchanged", "ieee", ev.IEEE, "presence", r.Presence)
		return nil
	}
	w.last[ev.IEEE] = r.Presence

	action := NoPresenceDetected
	if r.Presence {
		action = PresenceDetected
	}
	name, ok := w.deps.Presence[ev.IEEE].Actions[action]
	if !ok {
		w.deps.Logger.Warn("no workflow for presence change", "ieee", ev.IEEE, "action", action)
		return nil
	}
	w.deps.dispatch(ev, action, name)
	return nil
}
