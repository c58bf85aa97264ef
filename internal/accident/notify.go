// v0
// internal/accident/notify.go
package accident

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
)

// LogNotifier writes incidents to the operational log.
type LogNotifier struct {
	Log *slog.Logger
}

// Notify logs s.
func (n LogNotifier) Notify(_ context.Context, s Summary) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("accident_notice",
		slog.String("date", s.Date),
		slog.String("sensor_id", s.SensorID),
		slog.Int64("accident_time", s.AccidentTime),
		slog.String("direction", string(s.FallenDirection)),
		slog.Float64("impact_degree", s.ImpactDegree),
		slog.Float64("max_speed", s.MaxSpeed),
	)
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes incidents as JSON keyed by sensor.
type KafkaNotifier struct {
	writer messageWriter
	closer io.Closer
	topic  string
}

// NewKafkaNotifier publishes to topic through policy.
func NewKafkaNotifier(brokers []string, topic string, policy *circuitbreaker.Policy) (*KafkaNotifier, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("incident notifier requires brokers and a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaNotifier{writer: circuitbreaker.NewCBKafkaWriter(w, policy), closer: w, topic: topic}, nil
}

// Notify publishes s.
func (n *KafkaNotifier) Notify(ctx context.Context, s Summary) error {
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(s.SensorID), Value: value}); err != nil {
		return fmt.Errorf("publish incident to %s: %w", n.topic, err)
	}
	return nil
}

// Close closes the producer.
func (n *KafkaNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer.Close()
}

// Notifiers fans out to several notifiers and returns the first error.
type Notifiers []Notifier

// Notify calls every notifier.
func (ns Notifiers) Notify(ctx context.Context, s Summary) error {
	var first error
	for _, n := range ns {
		if err := n.Notify(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
