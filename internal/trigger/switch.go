package trigger

import (
	"context"
	"fmt"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
)

// StartSwitchPool spawns the control-switch pool. Each button action
// reported by a configured switch submits the workflow mapped to it.
func StartSwitchPool(deps Deps, workers int) (*actor.Ref[device.Message], error) {
	deps.defaults()
	return actor.SpawnPool(deps.System, SwitchPoolName, workers, func(int) actor.Actor[device.Message] {
		return actor.HandlerFunc[device.Message](func(_ context.Context, _ *actor.Ref[device.Message], msg device.Message) error {
			if msg.Event == nil {
				return nil
			}
			return deps.button(msg.Event)
		})
	}, actor.WithRouting(device.Message.RouteKey))
}

func (d Deps) button(ev *device.Event) error {
	r, ok := ev.Reading.(device.ButtonReading)
	if !ok {
		return fmt.Errorf("control-switch pool got %s reading for %s", ev.Reading.Class(), ev.IEEE)
	}
	// Switches publish an empty action after every press.
	if r.Action == "" {
		return nil
	}
	name, ok := d.Switches[ev.IEEE].Actions[r.Action]
	if !ok {
		d.Logger.Warn("no workflow for switch action", "ieee", ev.IEEE, "action", r.Action)
		return nil
	}
	d.dispatch(ev, r.Action, name)
	return nil
}
