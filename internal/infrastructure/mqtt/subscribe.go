package mqtt

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subscription is a tracked topic filter. It is re-subscribed after every
// reconnect, and its counters survive the reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler

	delivered atomic.Uint64
	failed    atomic.Uint64
	// streak counts consecutive handler failures; only the first is logged.
	streak atomic.Uint64
}

// SubscriptionStats describes one tracked subscription.
type SubscriptionStats struct {
	Topic     string `json:"topic"`
	QoS       byte   `json:"qos"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// Subscribe registers a handler for messages on the specified topic.
//
// Topics may contain MQTT wildcards, e.g. "zigbee2mqtt/#". The subscription
// is remembered and restored after a reconnect.
//
// Parameters:
//   - topic: The topic pattern to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback invoked for each message
//
// Returns:
//   - error: nil on success, or a wrapped sentinel describing the failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	sub := &subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Lock()
	c.subscriptions[topic] = sub
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(sub)), defaultPublishTimeout, ErrSubscribeFailed); err != nil {
		c.subMu.Lock()
		if c.subscriptions[topic] == sub {
			delete(c.subscriptions, topic)
		}
		c.subMu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	return await(c.client.Unsubscribe(topic), defaultPublishTimeout, ErrUnsubscribeFailed)
}

// HasSubscription reports whether topic is tracked for restoration.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// Subscriptions returns delivery counters for every tracked topic, sorted
// by topic.
func (c *Client) Subscriptions() []SubscriptionStats {
	c.subMu.RLock()
	out := make([]SubscriptionStats, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		out = append(out, SubscriptionStats{
			Topic:     sub.topic,
			QoS:       sub.qos,
			Delivered: sub.delivered.Load(),
			Failed:    sub.failed.Load(),
		})
	}
	c.subMu.RUnlock()

	slices.SortFunc(out, func(a, b SubscriptionStats) int { return strings.Compare(a.Topic, b.Topic) })
	return out
}

// wrapHandler adapts sub's handler to paho. Panics are recovered and
// counted as failures. While the handler keeps failing, for example
// because the dispatcher is restarting, only the first failure and the
// recovery are logged.
func (c *Client) wrapHandler(sub *subscription) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		err := safeCall(sub.handler, msg.Topic(), msg.Payload())
		if err == nil {
			sub.delivered.Add(1)
			if n := sub.streak.Swap(0); n > 0 {
				if l := c.getLogger(); l != nil {
					l.Info("mqtt handler recovered", "subscription", sub.topic, "failed_messages", n)
				}
			}
			return
		}

		sub.failed.Add(1)
		if sub.streak.Add(1) > 1 {
			return
		}
		if l := c.getLogger(); l != nil {
			if _, ok := err.(panicError); ok {
				l.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", err.Error())
			} else {
				l.Warn("mqtt handler failing", "topic", msg.Topic(), "error", err)
			}
		}
	}
}

type panicError struct{ value any }

func (p panicError) Error() string { return fmt.Sprint(p.value) }

func safeCall(h MessageHandler, topic string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return h(topic, payload)
}

// await waits for a paho token and wraps any failure in sentinel.
func await(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", sentinel, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
