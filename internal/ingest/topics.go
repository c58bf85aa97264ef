// v1
// internal/ingest/topics.go
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// TopicSpec is the desired layout of one topic.
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
}

// ValidateTopics checks that every topic exists with at least one partition.
// Callers treat the error as fatal.
func ValidateTopics(ctx context.Context, log *slog.Logger, brokers []string, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	admin, closeAdmin, err := dialController(ctx, log, brokers)
	if err != nil {
		return err
	}
	defer closeAdmin()
	for _, topic := range topics {
		count, err := readPartitions(admin, topic)
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("topic %s has no partitions (run topic-init before starting the processor)", topic)
		}
		log.Info("topic_valid", slog.String("topic", topic), slog.Int("partitions", count))
	}
	log.Info("topics_validated", slog.Int("count", len(topics)))
	return nil
}

// EnsureTopics creates the missing topics and verifies their partition counts.
func EnsureTopics(ctx context.Context, log *slog.Logger, brokers []string, specs []TopicSpec) error {
	if len(specs) == 0 {
		return nil
	}
	admin, closeAdmin, err := dialController(ctx, log, brokers)
	if err != nil {
		return err
	}
	defer closeAdmin()

	configs := make([]kafka.TopicConfig, 0, len(specs))
	for _, spec := range specs {
		configs = append(configs, kafka.TopicConfig{
			Topic:             spec.Name,
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.ReplicationFactor,
		})
	}
	if err := admin.CreateTopics(configs...); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("create topics: %w", err)
		}
		log.Info("topics_exist", slog.Any("err", err))
	} else {
		log.Info("topics_created", slog.Int("count", len(configs)))
	}
	for _, spec := range specs {
		count, err := readPartitions(admin, spec.Name)
		if err != nil {
			return err
		}
		if count != spec.Partitions {
			return fmt.Errorf("topic %s has %d partitions; expected %d", spec.Name, count, spec.Partitions)
		}
		log.Info("topic_ready", slog.String("topic", spec.Name), slog.Int("partitions", count), slog.Int("replication", spec.ReplicationFactor))
	}
	return nil
}

func dialController(ctx context.Context, log *slog.Logger, brokers []string) (*kafka.Conn, func(), error) {
	if len(brokers) == 0 {
		return nil, nil, fmt.Errorf("topic validation requires at least one broker")
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", brokers[0])
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker %s: %w", brokers[0], err)
	}
	controller, err := conn.Controller()
	if cerr := conn.Close(); cerr != nil {
		log.Warn("broker_close", slog.Any("err", cerr))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("fetch controller metadata: %w", err)
	}
	ctrlAddr := fmt.Sprintf("%s:%d", controller.Host, controller.Port)
	ctrlCtx, ctrlCancel := context.WithTimeout(ctx, 10*time.Second)
	defer ctrlCancel()
	admin, err := kafka.DialContext(ctrlCtx, "tcp", ctrlAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial controller %s: %w", ctrlAddr, err)
	}
	if err := admin.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Warn("controller_deadline", slog.Any("err", err))
	}
	return admin, func() {
		if cerr := admin.Close(); cerr != nil {
			log.Warn("controller_close", slog.Any("err", cerr))
		}
	}, nil
}

func readPartitions(conn *kafka.Conn, topic string) (int, error) {
	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return 0, fmt.Errorf("topic %s metadata: %w", topic, err)
	}
	return countPartitions(partitions, topic), nil
}

func countPartitions(partitions []kafka.Partition, topic string) int {
	seen := map[int]struct{}{}
	for _, p := range partitions {
		if p.Topic != topic {
			continue
		}
		seen[p.ID] = struct{}{}
	}
	return len(seen)
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "Topic with this name already exists")
}
