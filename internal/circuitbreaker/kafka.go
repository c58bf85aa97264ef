// v2
// internal/circuitbreaker/kafka.go
package circuitbreaker

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
)

// kafkaMessageWriter mirrors the subset of kafka.Writer used by the wrappers.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// kafkaMessageReader mirrors the subset of kafka.Reader used by the wrappers.
type kafkaMessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

// CBKafkaWriter wraps a kafka.Writer with circuit-breaker protection.
type CBKafkaWriter struct {
	policy *Policy
	writer kafkaMessageWriter
}

// NewCBKafkaWriter wires breaker protections around the provided writer.
func NewCBKafkaWriter(writer kafkaMessageWriter, policy *Policy) *CBKafkaWriter {
	return &CBKafkaWriter{writer: writer, policy: policy}
}

// WriteMessages publishes msgs with retry and back-off driven by the policy.
func (w *CBKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w == nil || w.writer == nil {
		return errors.New("nil kafka writer")
	}
	return w.policy.Do(ctx, func(execCtx context.Context) error {
		return w.writer.WriteMessages(execCtx, msgs...)
	})
}

// CBKafkaReader wraps a kafka.Reader, applying the policy to FetchMessage.
type CBKafkaReader struct {
	policy *Policy
	reader kafkaMessageReader
}

// NewCBKafkaReader wraps reader.
func NewCBKafkaReader(reader kafkaMessageReader, policy *Policy) *CBKafkaReader {
	return &CBKafkaReader{reader: reader, policy: policy}
}

// FetchMessage fetches the next message. A fetch that ends because the
// caller's poll deadline expired is not a broker failure and is returned
// without touching the breaker.
func (r *CBKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r == nil || r.reader == nil {
		return kafka.Message{}, errors.New("nil kafka reader")
	}
	if !r.policy.Enabled() {
		return r.reader.FetchMessage(ctx)
	}
	var msg kafka.Message
	err := r.policy.breaker.Execute(ctx, func(execCtx context.Context) error {
		m, err := r.reader.FetchMessage(execCtx)
		if err != nil {
			if ctx.Err() != nil {
				return Permanent(err)
			}
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		var pe *permanentError
		if errors.As(err, &pe) {
			return kafka.Message{}, pe.err
		}
		return kafka.Message{}, err
	}
	return msg, nil
}
