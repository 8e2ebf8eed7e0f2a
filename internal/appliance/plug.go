package appliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/infrastructure/influxdb"
)

// StartPlugPool spawns the smart-switch pool. Workers store each power
// reading, emit it as telemetry and forward it to the appliance state
// actor. Power queries are forwarded unchanged.
func StartPlugPool(deps Deps, workers int) (*actor.Ref[device.Message], error) {
	deps = deps.withDefaults()
	return actor.SpawnPool(deps.System, PoolName, workers, func(int) actor.Actor[device.Message] {
		return &plugWorker{deps: deps}
	}, actor.WithRouting(device.Message.RouteKey))
}

type plugWorker struct {
	deps Deps
}

func (w *plugWorker) Handle(ctx context.Context, _ *actor.Ref[device.Message], msg device.Message) error {
	switch {
	case msg.Query != nil:
		return w.forward(msg)
	case msg.Event == nil:
		w.deps.Logger.Warn("smart switch pool ignoring command", "ieee", msg.RouteKey())
		return nil
	}

	ev := msg.Event
	reading, ok := ev.Reading.(device.PowerReading)
	if !ok {
		return fmt.Errorf("smart switch pool got %s reading for %s", ev.Reading.Class(), ev.IEEE)
	}
	if err := w.deps.Readings.InsertPowerReading(ctx, ev, reading); err != nil {
		return err
	}
	if w.deps.Telemetry != nil {
		w.deps.Telemetry.WritePowerReading(influxdb.PowerReading{
			IEEE:    ev.IEEE,
			Name:    w.deps.name(ev.IEEE),
			Power:   reading.Power,
			Energy:  deref(reading.Energy),
			Voltage: deref(reading.Voltage),
			Current: deref(reading.Current),
			At:      ev.ReceivedAt,
		})
	}
	return w.forward(msg)
}

func (w *plugWorker) forward(msg device.Message) error {
	err := actor.Send(w.deps.System, StateName, msg)
	if errors.Is(err, actor.ErrNotRegistered) {
		// The state actor is between restarts; the reading is already stored.
		w.deps.Logger.Warn("appliance state actor unavailable", "ieee", msg.RouteKey())
		return nil
	}
	return err
}
