// v1
// internal/ingest/kafka.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
)

// KafkaConfig groups the consumer group settings.
type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

type messageCommitter interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSource consumes the raw telemetry topics as one consumer group.
type KafkaSource struct {
	fetcher   messageFetcher
	committer messageCommitter
	closer    io.Closer
	log       *slog.Logger
}

// NewKafkaSource opens a group reader on every configured topic. Fetches go
// through the breaker policy when one is supplied.
func NewKafkaSource(cfg KafkaConfig, policy *circuitbreaker.Policy, log *slog.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("no source topics configured")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("consumer group id must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	log.Info("kafka_source_ready",
		slog.String("group", cfg.GroupID),
		slog.String("topics", strings.Join(cfg.Topics, ",")),
		slog.String("brokers", strings.Join(cfg.Brokers, ",")),
	)
	return &KafkaSource{
		fetcher:   circuitbreaker.NewCBKafkaReader(reader, policy),
		committer: reader,
		closer:    reader,
		log:       log,
	}, nil
}

// Fetch returns the next message; its Commit commits the offset.
func (s *KafkaSource) Fetch(ctx context.Context) (Delivery, error) {
	msg, err := s.fetcher.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Delivery{}, ErrClosed
		}
		return Delivery{}, err
	}
	return Delivery{
		Source:    "kafka",
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		commit: func(ctx context.Context) error {
			if err := s.committer.CommitMessages(ctx, msg); err != nil {
				return fmt.Errorf("commit %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
			return nil
		},
	}, nil
}

// Close closes the underlying reader.
func (s *KafkaSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
