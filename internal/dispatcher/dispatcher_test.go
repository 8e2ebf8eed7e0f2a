package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/infrastructure/mqtt"
)

const (
	doorPayload = `{"contact":false,"battery":90,
		"device":{"friendlyName":"Front door","ieeeAddr":"0xdoor","model":"MCCGQ12LM"}}`
	presencePayload = `{"presence":true,
		"device":{"friendlyName":"Study","ieeeAddr":"0xstudy","model":"FP1E"}}`
)

type mockStore struct {
	mu     sync.Mutex
	events []*device.Event
	err    error
}

func (m *mockStore) InsertEvent(_ context.Context, ev *device.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockDirectory struct {
	mu      sync.Mutex
	devices []device.BridgeDevice
}

func (m *mockDirectory) Update(_ context.Context, devices []device.BridgeDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, devices...)
	return nil
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

type fixture struct {
	sys   *actor.System
	d     *Dispatcher
	store *mockStore
	dir   *mockDirectory
	log   *recordingLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sys := actor.NewSystem(context.Background(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	})

	f := &fixture{sys: sys, store: &mockStore{}, dir: &mockDirectory{}, log: &recordingLogger{}}
	f.d = New(sys, mqtt.NewTopics("zigbee2mqtt"), f.store, f.dir)
	f.d.SetLogger(f.log)
	return f
}

// handle drives one message through the worker logic synchronously.
func (f *fixture) handle(t *testing.T, topic, payload string) error {
	t.Helper()
	return f.d.handle(context.Background(), nil, Message{Topic: topic, Payload: []byte(payload), Source: SourceMQTT})
}

func TestHandle_DispatchesToClassPool(t *testing.T) {
	f := newFixture(t)
	got := make(chan device.Message, 1)
	_, err := actor.SpawnPool(f.sys, string(device.ClassDoorSensor), 1, func(int) actor.Actor[device.Message] {
		return actor.HandlerFunc[device.Message](func(_ context.Context, _ *actor.Ref[device.Message], m device.Message) error {
			got <- m
			return nil
		})
	})
	require.NoError(t, err)

	require.NoError(t, f.handle(t, "zigbee2mqtt/Front door", doorPayload))

	select {
	case m := <-got:
		require.NotNil(t, m.Event)
		assert.Equal(t, "0xdoor", m.Event.IEEE)
		assert.False(t, m.Event.Reading.(device.DoorReading).Contact)
		assert.Equal(t, f.store.events[0].CorrelationID, m.Event.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Equal(t, uint64(1), f.d.Stats().Dispatched)
}

func TestHandle_UnroutableLoggedOnce(t *testing.T) {
	f := newFixture(t)

	// No presence-sensor pool is registered, as while it is restarting.
	require.NoError(t, f.handle(t, "zigbee2mqtt/Study", presencePayload))

	assert.Equal(t, []string{"no actor registered for device class"}, f.log.errors)
	assert.Equal(t, uint64(1), f.d.Stats().Unroutable)
	assert.Equal(t, uint64(0), f.d.Stats().Dispatched)
	assert.Equal(t, 1, f.store.count(), "unroutable events are still recorded")
}

func TestHandle_TypeMismatchIsUnroutable(t *testing.T) {
	f := newFixture(t)
	_, err := actor.Spawn[string](f.sys, string(device.ClassDoorSensor), actor.HandlerFunc[string](
		func(context.Context, *actor.Ref[string], string) error { return nil }))
	require.NoError(t, err)

	require.NoError(t, f.handle(t, "zigbee2mqtt/Front door", doorPayload))
	assert.Equal(t, []string{"dispatching event failed"}, f.log.errors)
}

func TestHandle_UndecodableDropped(t *testing.T) {
	f := newFixture(t)

	tests := []string{
		`not json`,
		`{"contact":true}`,
		`{"contact":true,"device":{"ieeeAddr":"0x1","model":"UNKNOWN"}}`,
	}
	for _, payload := range tests {
		assert.NoError(t, f.handle(t, "zigbee2mqtt/x", payload))
	}

	assert.Equal(t, uint64(3), f.d.Stats().Undecodable)
	assert.Equal(t, 0, f.store.count())
	assert.Empty(t, f.log.errors)
	assert.Len(t, f.log.warns, 3)
}

func TestHandle_IgnoredTopics(t *testing.T) {
	f := newFixture(t)

	for _, topic := range []string{
		"zigbee2mqtt/bridge/state",
		"zigbee2mqtt/Front door/set",
		"zigbee2mqtt/Front door/availability",
		"homeassistant/sensor/config",
	} {
		assert.NoError(t, f.handle(t, topic, doorPayload), topic)
	}
	assert.Equal(t, uint64(4), f.d.Stats().Ignored)
	assert.Equal(t, 0, f.store.count())
}

func TestHandle_DirectorySnapshot(t *testing.T) {
	f := newFixture(t)
	payload := `[{"ieee_address":"0xdoor","friendly_name":"Front door","type":"EndDevice"}]`

	require.NoError(t, f.handle(t, "zigbee2mqtt/bridge/devices", payload))

	require.Len(t, f.dir.devices, 1)
	assert.Equal(t, "Front door", f.dir.devices[0].FriendlyName)
	assert.Equal(t, uint64(1), f.d.Stats().Directory)
}

func TestHandle_StoreFailureReturned(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("database is locked")

	err := f.handle(t, "zigbee2mqtt/Front door", doorPayload)
	assert.ErrorContains(t, err, "database is locked")
}

func TestHandle_WebhookWithoutTopic(t *testing.T) {
	f := newFixture(t)
	err := f.d.handle(context.Background(), nil, Message{Payload: []byte(presencePayload), Source: SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.count())
}

func TestStartAndSubmit(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	wg.Add(20)
	_, err := actor.SpawnPool(f.sys, string(device.ClassDoorSensor), 1, func(int) actor.Actor[device.Message] {
		return actor.HandlerFunc[device.Message](func(context.Context, *actor.Ref[device.Message], device.Message) error {
			wg.Done()
			return nil
		})
	})
	require.NoError(t, err)

	ref, err := f.d.Start(5)
	require.NoError(t, err)
	assert.Equal(t, Name, ref.Name())

	handler := MQTTHandler(f.sys)
	for i := range 20 {
		require.NoError(t, handler(fmt.Sprintf("zigbee2mqtt/door-%d", i), []byte(doorPayload)))
	}
	wg.Wait()
	assert.Eventually(t, func() bool { return f.d.Stats().Dispatched == 20 }, time.Second, time.Millisecond)
}
