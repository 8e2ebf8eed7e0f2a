// Package notify delivers user-facing notifications such as "Washing
// machine has turned off." to the MQTT notify topic and to websocket
// listeners.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Websocket channels.
const (
	ChannelNotifications = "notifications"
	ChannelStateChanges  = "state"
)

// ErrEmptyMessage is returned for a notification without a message.
var ErrEmptyMessage = errors.New("notify: empty message")

// Notification is one user-facing message.
type Notification struct {
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Publisher is the MQTT subset used for delivery.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Broadcaster is the websocket hub subset used for delivery.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger defines the logging interface for the notifier.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Service publishes notifications to MQTT and broadcasts them to
// websocket listeners. Either sink may be nil.
type Service struct {
	pub    Publisher
	topic  string
	hub    Broadcaster
	logger Logger
}

// New creates a Service publishing to topic.
func New(pub Publisher, topic string, hub Broadcaster) *Service {
	return &Service{pub: pub, topic: topic, hub: hub, logger: noopLogger{}}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Notify delivers n. The websocket broadcast is best effort; a failed
// MQTT publish is returned so callers driven by the delay queue retry.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if n.Message == "" {
		return ErrEmptyMessage
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}

	if s.hub != nil {
		s.hub.Broadcast(ChannelNotifications, n)
	}

	if s.pub != nil {
		if err := s.pub.PublishJSON(s.topic, n); err != nil {
			s.logger.Warn("notification publish failed",
				"title", n.Title,
				"correlation_id", n.CorrelationID,
				"error", err,
			)
			return fmt.Errorf("publishing notification: %w", err)
		}
	}

	s.logger.Info("notification sent", "title", n.Title, "message", n.Message, "correlation_id", n.CorrelationID)
	return nil
}
