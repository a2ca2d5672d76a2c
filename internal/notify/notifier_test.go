package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/riteshkumar/banking-core/internal/models"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaNotifierPublish(t *testing.T) {
	w := &recordingWriter{}
	n := &KafkaNotifier{writer: w}

	event := AlertEvent{
		Type:       EventAlertCreated,
		Alert:      &models.FraudAlert{ID: 17, TransactionID: 9, Status: models.AlertNew, RiskScore: 80},
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := n.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("messages=%d want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "17" {
		t.Errorf("key=%q want 17", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(EventAlertCreated) {
		t.Errorf("headers=%v", msg.Headers)
	}

	var decoded AlertEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Alert.RiskScore != 80 || decoded.Type != EventAlertCreated {
		t.Errorf("decoded=%+v", decoded)
	}
}

func TestKafkaNotifierPublishError(t *testing.T) {
	n := &KafkaNotifier{writer: &recordingWriter{err: errors.New("broker down")}}

	err := n.Publish(context.Background(), AlertEvent{Type: EventAlertStatusChanged, Alert: &models.FraudAlert{ID: 1}})
	if err == nil {
		t.Fatal("expected error")
	}
}
