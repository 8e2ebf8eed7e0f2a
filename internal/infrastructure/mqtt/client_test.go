package mqtt

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/homegateway/internal/infrastructure/config"
)

func TestTopics_Builders(t *testing.T) {
	topics := NewTopics("zigbee2mqtt/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"all devices", topics.AllDevices(), "zigbee2mqtt/#"},
		{"bridge devices", topics.BridgeDevices(), "zigbee2mqtt/bridge/devices"},
		{"device state", topics.DeviceState("Hall door"), "zigbee2mqtt/Hall door"},
		{"device set", topics.DeviceSet("Kitchen light"), "zigbee2mqtt/Kitchen light/set"},
		{"default base", NewTopics("").AllDevices(), "zigbee2mqtt/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_Classify(t *testing.T) {
	topics := NewTopics("zigbee2mqtt")

	tests := []struct {
		topic    string
		wantKind TopicKind
		wantName string
	}{
		{"zigbee2mqtt/Hall door", KindDeviceMessage, "Hall door"},
		{"zigbee2mqtt/bridge/devices", KindDirectory, ""},
		{"zigbee2mqtt/bridge/state", KindBridge, ""},
		{"zigbee2mqtt/Kitchen light/set", KindDeviceControl, "Kitchen light"},
		{"zigbee2mqtt/Kitchen light/availability", KindDeviceControl, "Kitchen light"},
		{"zigbee2mqtt/Floor 1/Lamp", KindDeviceMessage, "Floor 1/Lamp"},
		{"zigbee2mqtt/", KindForeign, ""},
		{"other/Hall door", KindForeign, ""},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, name := topics.Classify(tt.topic)
			if kind != tt.wantKind || name != tt.wantName {
				t.Errorf("Classify(%q) = (%v, %q), want (%v, %q)", tt.topic, kind, name, tt.wantKind, tt.wantName)
			}
		})
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"valid", "a/b", []byte("{}"), 1, nil},
		{"nil payload", "a/b", nil, 0, nil},
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "a/b", nil, 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(config.MQTTConfig{BaseTopic: "zigbee2mqtt"})

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if err := c.Publish("a/b", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishJSON("a/b", map[string]string{"state": "ON"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishJSON() error = %v, want ErrNotConnected", err)
	}
	noop := func(string, []byte) error { return nil }
	if err := c.Subscribe("a/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if c.HasSubscription("a/#") {
		t.Error("failed subscription should not be tracked")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var got statusPayload
	if err := json.Unmarshal(buildStatusPayload("gw-1", "offline", "graceful_shutdown"), &got); err != nil {
		t.Fatalf("unmarshal status payload: %v", err)
	}
	if got.Status != "offline" || got.ClientID != "gw-1" || got.Reason != "graceful_shutdown" {
		t.Errorf("status payload = %+v", got)
	}
	if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", got.Timestamp, err)
	}
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
	warns  []string
}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func TestWrapHandler_RecoversAndLogs(t *testing.T) {
	c := newClient(config.MQTTConfig{})
	logger := &recordingLogger{}
	c.SetLogger(logger)

	panicky := c.wrapHandler(&subscription{topic: "a/#", handler: func(string, []byte) error { panic("boom") }})
	failing := c.wrapHandler(&subscription{topic: "b/#", handler: func(string, []byte) error { return errors.New("bad payload") }})

	msg := fakeMessage{topic: "zigbee2mqtt/Hall door", payload: []byte("{}")}
	panicky(nil, msg)
	failing(nil, msg)

	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v, want one panic entry", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one handler error entry", logger.warns)
	}
}

func TestWrapHandler_FailureStreak(t *testing.T) {
	c := newClient(config.MQTTConfig{})
	logger := &recordingLogger{}
	c.SetLogger(logger)

	fail := true
	sub := &subscription{topic: "zigbee2mqtt/#", handler: func(string, []byte) error {
		if fail {
			return errors.New("dispatcher down")
		}
		return nil
	}}
	handle := c.wrapHandler(sub)
	msg := fakeMessage{topic: "zigbee2mqtt/Kettle", payload: []byte("{}")}

	for range 3 {
		handle(nil, msg)
	}
	fail = false
	handle(nil, msg)
	handle(nil, msg)

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want only the first failure logged", logger.warns)
	}
	if len(logger.infos) != 1 || !strings.Contains(logger.infos[0], "recovered") {
		t.Errorf("infos = %v, want one recovery entry", logger.infos)
	}
	if got := sub.failed.Load(); got != 3 {
		t.Errorf("failed = %d, want 3", got)
	}
	if got := sub.delivered.Load(); got != 2 {
		t.Errorf("delivered = %d, want 2", got)
	}
}

// fakeToken completes immediately unless pending is set.
type fakeToken struct {
	pending bool
	err     error
}

func (f fakeToken) Wait() bool                     { return !f.pending }
func (f fakeToken) WaitTimeout(time.Duration) bool { return !f.pending }
func (f fakeToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (f fakeToken) Error() error                   { return f.err }

func TestAwait(t *testing.T) {
	tests := []struct {
		name  string
		token fakeToken
		want  []error
	}{
		{"completed", fakeToken{}, nil},
		{"broker refused", fakeToken{err: errors.New("not authorised")}, []error{ErrSubscribeFailed}},
		{"timed out", fakeToken{pending: true}, []error{ErrSubscribeFailed, ErrTimeout}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := await(tt.token, time.Millisecond, ErrSubscribeFailed)
			if tt.want == nil {
				if err != nil {
					t.Errorf("await() error = %v, want nil", err)
				}
				return
			}
			for _, target := range tt.want {
				if !errors.Is(err, target) {
					t.Errorf("await() error = %v, want %v in chain", err, target)
				}
			}
		})
	}
}

func TestSubscriptions_SortedByTopic(t *testing.T) {
	c := newClient(config.MQTTConfig{})
	noop := func(string, []byte) error { return nil }
	for _, topic := range []string{"zigbee2mqtt/b", "homegateway/#", "zigbee2mqtt/a"} {
		c.subscriptions[topic] = &subscription{topic: topic, qos: 1, handler: noop}
	}
	c.subscriptions["zigbee2mqtt/a"].delivered.Add(4)

	got := c.Subscriptions()
	if len(got) != 3 {
		t.Fatalf("Subscriptions() len = %d, want 3", len(got))
	}
	want := []string{"homegateway/#", "zigbee2mqtt/a", "zigbee2mqtt/b"}
	for i, s := range got {
		if s.Topic != want[i] {
			t.Errorf("Subscriptions()[%d].Topic = %q, want %q", i, s.Topic, want[i])
		}
	}
	if got[1].Delivered != 4 {
		t.Errorf("delivered = %d, want 4", got[1].Delivered)
	}
}

// TestIntegration_Roundtrip needs a broker; set HOMEGW_TEST_MQTT_PORT to run it.
func TestIntegration_Roundtrip(t *testing.T) {
	portStr := os.Getenv("HOMEGW_TEST_MQTT_PORT")
	if portStr == "" {
		t.Skip("HOMEGW_TEST_MQTT_PORT not set")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad HOMEGW_TEST_MQTT_PORT: %v", err)
	}

	client, err := Connect(config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: "127.0.0.1", Port: port, ClientID: "homegateway-test"},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
		BaseTopic: "homegateway-test",
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	received := make(chan string, 1)
	topic := client.Topics().DeviceState("Hall switch")
	if err := client.Subscribe(client.Topics().AllDevices(), 1, func(topic string, _ []byte) error {
		received <- topic
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.PublishJSON(topic, map[string]bool{"contact": true}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if got != topic {
			t.Errorf("received on %q, want %q", got, topic)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message not received")
	}
}
