// Package notify publishes fraud alert lifecycle events to the notification
// delivery collaborator.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/riteshkumar/banking-core/internal/models"
)

type EventType string

const (
	EventAlertCreated       EventType = "fraud_alert.created"
	EventAlertStatusChanged EventType = "fraud_alert.status_changed"
	EventAlertRiskRaised    EventType = "fraud_alert.risk_raised"
)

type AlertEvent struct {
	Type       EventType          `json:"type"`
	Alert      *models.FraudAlert `json:"alert"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Notifier delivers alert events. Implementations must be safe for
// concurrent use; failures are reported but never undo the alert change.
type Notifier interface {
	Publish(ctx context.Context, event AlertEvent) error
}

type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, AlertEvent) error { return nil }

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaNotifier struct {
	writer messageWriter
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish keys messages by alert id so every event of one alert lands on
// the same partition in order.
func (n *KafkaNotifier) Publish(ctx context.Context, event AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.Alert.ID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish alert event: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
