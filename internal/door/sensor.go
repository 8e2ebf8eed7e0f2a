package door

import (
	"context"
	"fmt"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
)

// StartSensorPool spawns the door-sensor pool. Each worker stores the raw
// reading and broadcasts Opened or Closed to GroupName. Readings are routed
// by IEEE so one door's transitions reach the listeners in order.
func StartSensorPool(deps Deps, workers int) (*actor.Ref[device.Message], error) {
	deps = deps.withDefaults()
	return actor.SpawnPool(deps.System, SensorPoolName, workers, func(int) actor.Actor[device.Message] {
		return &sensorWorker{deps: deps}
	}, actor.WithRouting(device.Message.RouteKey))
}

type sensorWorker struct {
	deps Deps
}

func (w *sensorWorker) Handle(ctx context.Context, _ *actor.Ref[device.Message], msg device.Message) error {
	if msg.Event == nil {
		w.deps.Logger.Warn("door sensor pool ignoring non-event message", "ieee", msg.RouteKey())
		return nil
	}
	ev := msg.Event
	reading, ok := ev.Reading.(device.DoorReading)
	if !ok {
		return fmt.Errorf("door sensor pool got %s reading for %s", ev.Reading.Class(), ev.IEEE)
	}

	if err := w.deps.Readings.InsertDoorReading(ctx, ev, reading); err != nil {
		return err
	}

	kind := Opened
	if reading.Contact {
		kind = Closed
	}
	n := actor.Broadcast(w.deps.System, GroupName, Msg{
		Kind:          kind,
		IEEE:          ev.IEEE,
		CorrelationID: ev.CorrelationID.String(),
	})
	w.deps.Logger.Debug("door event broadcast",
		"ieee", ev.IEEE,
		"kind", kind,
		"listeners", n,
		"correlation_id", ev.CorrelationID,
	)
	return nil
}
