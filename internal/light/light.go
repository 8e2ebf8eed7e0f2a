package light

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/homegateway/internal/notify"
)

// PoolName is the registered name of the light pool.
const PoolName = string(device.ClassLight)

// MaxBrightness is the highest brightness a set_brightness command sends.
const MaxBrightness = 254

// StateStore persists and reads reported light state.
// *device.Store satisfies it.
type StateStore interface {
	UpsertLightState(ctx context.Context, ieee string, r device.LightReading, at time.Time) error
	LightState(ctx context.Context, ieee string) (device.LightReading, error)
}

// Publisher sends a JSON command to the bus.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Logger defines the logging interface for the light pool.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Deps holds what the light workers need. Hub may be nil.
type Deps struct {
	System    *actor.System
	Store     StateStore
	Publisher Publisher
	Names     device.Names
	Topics    mqtt.Topics
	Hub       notify.Broadcaster
	Logger    Logger
}

// StartPool spawns the light pool.
func StartPool(deps Deps, workers int) (*actor.Ref[device.Message], error) {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return actor.SpawnPool(deps.System, PoolName, workers, func(int) actor.Actor[device.Message] {
		return &worker{deps: deps}
	}, actor.WithRouting(device.Message.RouteKey))
}

type worker struct {
	deps Deps
}

func (w *worker) Handle(ctx context.Context, _ *actor.Ref[device.Message], msg device.Message) error {
	switch {
	case msg.Event != nil:
		return w.record(ctx, msg.Event)
	case msg.Command != nil:
		return w.command(msg.Command)
	case msg.Query != nil:
		return w.query(ctx, msg.Query)
	}
	return nil
}

func (w *worker) record(ctx context.Context, ev *device.Event) error {
	r, ok := ev.Reading.(device.LightReading)
	if !ok {
		return fmt.Errorf("light pool got %s reading for %s", ev.Reading.Class(), ev.IEEE)
	}
	if err := w.deps.Store.UpsertLightState(ctx, ev.IEEE, r, ev.ReceivedAt); err != nil {
		return err
	}
	if w.deps.Hub != nil {
		w.deps.Hub.Broadcast(notify.ChannelStateChanges, device.Transition{
			Class:         device.ClassLight,
			IEEE:          ev.IEEE,
			State:         r.State,
			CorrelationID: ev.CorrelationID.String(),
			At:            ev.ReceivedAt,
		})
	}
	return nil
}

func (w *worker) command(cmd *device.Command) error {
	payload, err := Payload(*cmd)
	if err != nil {
		return err
	}
	friendly, ok := w.deps.Names.FriendlyName(cmd.IEEE)
	if !ok {
		w.deps.Logger.Warn("no friendly name for light, command skipped",
			"ieee", cmd.IEEE, "action", cmd.Action, "correlation_id", cmd.CorrelationID)
		return nil
	}
	topic := w.deps.Topics.DeviceSet(friendly)
	if err := w.deps.Publisher.PublishJSON(topic, payload); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", cmd.Action, topic, err)
	}
	w.deps.Logger.Debug("light command sent", "topic", topic, "action", cmd.Action)
	return nil
}

func (w *worker) query(ctx context.Context, q *device.PowerQuery) error {
	var ps device.PowerState
	r, err := w.deps.Store.LightState(ctx, q.IEEE)
	switch {
	case err == nil:
		ps = device.PowerState{On: r.On(), Known: true}
	case !errors.Is(err, device.ErrNotFound):
		// Unanswered; the asker times out.
		return err
	}
	select {
	case q.Reply <- ps:
	default:
	}
	return nil
}

// Payload builds the set-topic JSON body for a light command.
func Payload(cmd device.Command) (map[string]any, error) {
	switch cmd.Action {
	case device.ActionOn:
		return map[string]any{"state": "ON"}, nil
	case device.ActionOff:
		return map[string]any{"state": "OFF"}, nil
	case device.ActionToggle:
		return map[string]any{"state": "TOGGLE"}, nil
	case device.ActionBrightnessMove:
		return map[string]any{"brightness_move": cmd.Value}, nil
	case device.ActionBrightnessMoveOnOff:
		return map[string]any{"brightness_move_onoff": cmd.Value}, nil
	case device.ActionColorTempMove:
		if cmd.Value == 0 {
			return map[string]any{"color_temp_move": "stop"}, nil
		}
		return map[string]any{"color_temp_move": cmd.Value}, nil
	case device.ActionSetBrightness:
		return map[string]any{"brightness": min(max(cmd.Value, 0), MaxBrightness)}, nil
	}
	return nil, fmt.Errorf("unsupported light action %q", cmd.Action)
}
