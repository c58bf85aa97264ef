// v0
// internal/sink/kafka.go
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaConfig selects brokers and destination topics.
type KafkaConfig struct {
	Brokers []string
	// TopicFor returns the destination topic of a variant.
	TopicFor  func(telemetry.Variant) string
	ChunkSize int
}

// Kafka publishes one message per record, keyed by sensor (or phone) so a
// device's records share a partition.
type Kafka struct {
	writer   messageWriter
	closer   io.Closer
	topicFor func(telemetry.Variant) string
	chunk    int
	log      *slog.Logger
}

// NewKafka builds the producer. Writes go through policy.
func NewKafka(cfg KafkaConfig, policy *circuitbreaker.Policy, log *slog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires brokers")
	}
	if cfg.TopicFor == nil {
		return nil, fmt.Errorf("kafka sink requires a topic mapping")
	}
	if log == nil {
		log = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Kafka{
		writer:   circuitbreaker.NewCBKafkaWriter(classifyingWriter{next: w}, policy),
		closer:   w,
		topicFor: cfg.TopicFor,
		chunk:    cfg.ChunkSize,
		log:      log,
	}, nil
}

// Name identifies the sink in logs and metrics.
func (k *Kafka) Name() string { return "kafka" }

// Write publishes the records in chunks, each chunk in one ordered call.
func (k *Kafka) Write(ctx context.Context, b telemetry.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	topic := k.topicFor(b.Variant)
	if topic == "" {
		return unavailable(k.Name(), circuitbreaker.Permanent(fmt.Errorf("no destination topic for %s", b.Variant)))
	}
	key := []byte(b.Key())
	for _, part := range chunks(b.Records, k.chunk) {
		msgs := make([]kafka.Message, 0, len(part))
		for _, r := range part {
			value, err := json.Marshal(r)
			if err != nil {
				return unavailable(k.Name(), circuitbreaker.Permanent(fmt.Errorf("encode record %d: %w", r.Time, err)))
			}
			msgs = append(msgs, kafka.Message{
				Topic:   topic,
				Key:     key,
				Value:   value,
				Headers: []kafka.Header{
					{Key: "variant", Value: []byte(b.Variant.String())},
					{Key: "date", Value: []byte(b.Date)},
					{Key: "time", Value: []byte(strconv.FormatInt(r.Time, 10))},
				},
			})
		}
		if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
			return unavailable(k.Name(), fmt.Errorf("write %s: %w", topic, err))
		}
	}
	return nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	if k.closer == nil {
		return nil
	}
	return k.closer.Close()
}
