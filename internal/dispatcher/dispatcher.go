package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/infrastructure/mqtt"
)

// Name is the registered name of the dispatcher pool.
const Name = "event-dispatcher"

// Source identifies where a raw message came from.
type Source string

const (
	SourceMQTT    Source = "mqtt"
	SourceWebhook Source = "webhook"
)

// Message is one raw inbound payload.
type Message struct {
	Topic   string
	Payload []byte
	Source  Source
}

// EventStore persists decoded events before they are dispatched.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *device.Event) error
}

// DirectoryWriter receives device directory snapshots.
type DirectoryWriter interface {
	Update(ctx context.Context, devices []device.BridgeDevice) error
}

// Logger defines the logging interface for the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats counts what the dispatcher did with each message.
type Stats struct {
	Dispatched  uint64 `json:"dispatched"`
	Undecodable uint64 `json:"undecodable"`
	Unroutable  uint64 `json:"unroutable"`
	Ignored     uint64 `json:"ignored"`
	Directory   uint64 `json:"directory_snapshots"`
}

// Dispatcher decodes raw messages, records them and forwards each decoded
// event to the pool registered under its device class.
type Dispatcher struct {
	sys       *actor.System
	topics    mqtt.Topics
	store     EventStore
	directory DirectoryWriter
	logger    Logger
	now       func() time.Time

	dispatched  atomic.Uint64
	undecodable atomic.Uint64
	unroutable  atomic.Uint64
	ignored     atomic.Uint64
	snapshots   atomic.Uint64
}

// New creates a dispatcher. Pass the result to Start to run it.
func New(sys *actor.System, topics mqtt.Topics, store EventStore, directory DirectoryWriter) *Dispatcher {
	return &Dispatcher{
		sys:       sys,
		topics:    topics,
		store:     store,
		directory: directory,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Start spawns the dispatcher pool with the given number of workers. The
// workers share one queue; no ordering holds across workers.
func (d *Dispatcher) Start(workers int) (*actor.Ref[Message], error) {
	return actor.SpawnPool(d.sys, Name, workers, func(int) actor.Actor[Message] {
		return actor.HandlerFunc[Message](d.handle)
	})
}

// Submit hands a raw message to the running pool. It fails with
// actor.ErrNotRegistered while the pool is being restarted.
func Submit(sys *actor.System, msg Message) error {
	return actor.Send(sys, Name, msg)
}

// MQTTHandler adapts Submit to an MQTT subscription callback.
func MQTTHandler(sys *actor.System) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		// The pool handles the payload after this callback returns.
		buf := make([]byte, len(payload))
		copy(buf, payload)
		return Submit(sys, Message{Topic: topic, Payload: buf, Source: SourceMQTT})
	}
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:  d.dispatched.Load(),
		Undecodable: d.undecodable.Load(),
		Unroutable:  d.unroutable.Load(),
		Ignored:     d.ignored.Load(),
		Directory:   d.snapshots.Load(),
	}
}

// handle runs Decode, Classify, Resolve and Dispatch for one message.
// Decode and resolution failures are logged and dropped; only storage
// failures are returned.
func (d *Dispatcher) handle(ctx context.Context, _ *actor.Ref[Message], msg Message) error {
	kind := mqtt.KindDeviceMessage
	if msg.Topic != "" {
		kind, _ = d.topics.Classify(msg.Topic)
	}

	switch kind {
	case mqtt.KindDirectory:
		return d.handleDirectory(ctx, msg)
	case mqtt.KindDeviceMessage:
	default:
		d.ignored.Add(1)
		return nil
	}

	ev, err := device.Decode(msg.Topic, msg.Payload, d.now())
	if err != nil {
		d.undecodable.Add(1)
		d.logger.Warn("dropping undecodable message",
			"topic", msg.Topic,
			"source", msg.Source,
			"error", err,
		)
		return nil
	}

	if err := d.store.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("persisting event %s: %w", ev.CorrelationID, err)
	}

	d.logger.Debug("received device event",
		"class", ev.Class,
		"device", ev.FriendlyName,
		"ieee", ev.IEEE,
		"correlation_id", ev.CorrelationID,
	)

	target := string(ev.Class)
	switch err := actor.Send(d.sys, target, device.Message{Event: ev}); {
	case err == nil:
		d.dispatched.Add(1)
	case errors.Is(err, actor.ErrNotRegistered):
		d.unroutable.Add(1)
		d.logger.Error("no actor registered for device class",
			"class", ev.Class,
			"ieee", ev.IEEE,
			"correlation_id", ev.CorrelationID,
		)
	default:
		d.unroutable.Add(1)
		d.logger.Error("dispatching event failed",
			"target", target,
			"correlation_id", ev.CorrelationID,
			"error", err,
		)
	}
	return nil
}

func (d *Dispatcher) handleDirectory(ctx context.Context, msg Message) error {
	devices, err := device.DecodeBridgeDevices(msg.Payload)
	if err != nil {
		d.undecodable.Add(1)
		d.logger.Warn("dropping undecodable device directory", "error", err)
		return nil
	}
	if err := d.directory.Update(ctx, devices); err != nil {
		return fmt.Errorf("updating device directory: %w", err)
	}
	d.snapshots.Add(1)
	d.logger.Info("device directory updated", "devices", len(devices))
	return nil
}
