package appliance

import (
	"context"
	"fmt"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/notify"
)

type tracked struct {
	avg   *TimedAverage
	state string
}

// State infers appliance on/off state from a moving average of the current
// a plug measures, in amps. Readings without a current are ignored.
//
// The first reading for an appliance with no stored state seeds it without
// an alert. Afterwards an On appliance whose average falls below its off
// threshold turns Off and raises a notification; an Off appliance whose
// average reaches its on threshold turns On silently. Transitions are
// persisted before the in-memory state moves.
type State struct {
	deps    Deps
	devices map[string]*tracked
}

// StartState spawns the appliance state actor.
func StartState(deps Deps) (*actor.Ref[device.Message], error) {
	deps = deps.withDefaults()
	return actor.Spawn[device.Message](deps.System, StateName, &State{deps: deps})
}

// Init seeds state from the latest persisted transition per plug.
func (s *State) Init(ctx context.Context, _ *actor.Ref[device.Message]) error {
	latest, err := s.deps.States.LatestStates(ctx, device.ClassSmartSwitch)
	if err != nil {
		return fmt.Errorf("loading appliance states: %w", err)
	}
	s.devices = make(map[string]*tracked, len(latest))
	for ieee, ls := range latest {
		s.track(ieee).state = ls.State
	}
	s.deps.Logger.Info("appliance states loaded", "appliances", len(latest))
	return nil
}

// Handle applies a power reading or answers a power query.
func (s *State) Handle(ctx context.Context, _ *actor.Ref[device.Message], msg device.Message) error {
	switch {
	case msg.Query != nil:
		s.answer(msg.Query)
		return nil
	case msg.Event != nil:
		return s.apply(ctx, msg.Event)
	}
	return nil
}

func (s *State) apply(ctx context.Context, ev *device.Event) error {
	reading, ok := ev.Reading.(device.PowerReading)
	if !ok {
		return fmt.Errorf("appliance state got %s reading for %s", ev.Reading.Class(), ev.IEEE)
	}
	cfg, ok := s.deps.Appliances[ev.IEEE]
	if !ok {
		s.deps.Logger.Debug("power reading for unconfigured plug", "ieee", ev.IEEE)
		return nil
	}
	if reading.Current == nil {
		s.deps.Logger.Debug("power reading without current", "ieee", ev.IEEE)
		return nil
	}

	now := s.deps.Now()
	t := s.track(ev.IEEE)
	if t.avg == nil {
		window := cfg.Window
		if window <= 0 {
			window = DefaultWindow
		}
		t.avg = NewTimedAverage(window)
	}
	t.avg.Push(now, *reading.Current)
	avg, _ := t.avg.Value(now)

	var next string
	switch t.state {
	case "":
		next = StateOff
		if avg >= cfg.OnThreshold {
			next = StateOn
		}
	case StateOn:
		if avg < cfg.OffThreshold {
			next = StateOff
		}
	case StateOff:
		if avg >= cfg.OnThreshold {
			next = StateOn
		}
	}
	if next == "" {
		return nil
	}

	seeding := t.state == ""
	tr := device.Transition{
		Class:         device.ClassSmartSwitch,
		IEEE:          ev.IEEE,
		State:         next,
		CorrelationID: ev.CorrelationID.String(),
		At:            now,
	}
	if err := s.deps.States.RecordTransition(ctx, tr); err != nil {
		return fmt.Errorf("recording appliance transition: %w", err)
	}
	t.state = next

	name := s.deps.name(ev.IEEE)
	if seeding {
		s.deps.Logger.Info("appliance state seeded", "appliance", name, "state", next, "average", avg)
		return nil
	}

	if s.deps.Telemetry != nil {
		s.deps.Telemetry.WriteTransition(string(tr.Class), tr.IEEE, tr.State, tr.At)
	}
	if s.deps.Hub != nil {
		s.deps.Hub.Broadcast(notify.ChannelStateChanges, tr)
	}
	if s.deps.System != nil {
		actor.Broadcast(s.deps.System, GroupName, tr)
	}
	s.deps.Logger.Info("appliance state changed", "appliance", name, "state", next, "average", avg)

	if next == StateOff && s.deps.Notifier != nil {
		err := s.deps.Notifier.Notify(ctx, notify.Notification{
			Title:         "Appliance finished",
			Message:       fmt.Sprintf("%s has turned off.", name),
			CorrelationID: tr.CorrelationID,
		})
		if err != nil {
			s.deps.Logger.Warn("appliance notification failed", "appliance", name, "error", err)
		}
	}
	return nil
}

func (s *State) answer(q *device.PowerQuery) {
	var ps device.PowerState
	if t, ok := s.devices[q.IEEE]; ok && t.state != "" {
		ps = device.PowerState{On: t.state == StateOn, Known: true}
	}
	select {
	case q.Reply <- ps:
	default:
		s.deps.Logger.Warn("power query reply dropped", "ieee", q.IEEE)
	}
}

func (s *State) track(ieee string) *tracked {
	t, ok := s.devices[ieee]
	if !ok {
		t = &tracked{}
		s.devices[ieee] = t
	}
	return t
}

// Current returns the state of an appliance, for tests and diagnostics.
func (s *State) Current(ieee string) (string, bool) {
	t, ok := s.devices[ieee]
	if !ok || t.state == "" {
		return "", false
	}
	return t.state, true
}
