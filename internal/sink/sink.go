// v0
// internal/sink/sink.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

// Sink persists or forwards the records of one batch.
type Sink interface {
	Name() string
	// Write returns nil once every record is accepted. Errors wrap
	// telemetry.ErrSinkUnavailable unless they are permanent.
	Write(ctx context.Context, b telemetry.Batch) error
	Close() error
}

// unavailable classifies err. Permanent errors and destination rejections pass
// through so the caller can dead-letter the payload; everything else is an
// outage.
func unavailable(name string, err error) error {
	if err == nil {
		return nil
	}
	err = classify(err)
	if circuitbreaker.IsPermanent(err) {
		return fmt.Errorf("%s: %w", name, err)
	}
	if errors.Is(err, telemetry.ErrSinkUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", name, telemetry.ErrSinkUnavailable, err)
}

// chunks splits records into slices of at most size, keeping order.
func chunks(records []telemetry.Record, size int) [][]telemetry.Record {
	if size <= 0 {
		size = len(records)
	}
	var out [][]telemetry.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end])
	}
	return out
}

// Observer receives the duration and outcome of every sink write.
type Observer func(sink string, elapsed time.Duration, err error)

// Multi writes each batch to several sinks in order and stops at the first
// failure. A retried batch is written again to every sink.
type Multi struct {
	sinks    []Sink
	observer Observer
	log      *slog.Logger
}

// NewMulti fans out to sinks in the given order.
func NewMulti(log *slog.Logger, observer Observer, sinks ...Sink) *Multi {
	if log == nil {
		log = slog.Default()
	}
	return &Multi{sinks: sinks, observer: observer, log: log}
}

// Name joins the sink names.
func (m *Multi) Name() string {
	name := "multi"
	for i, s := range m.sinks {
		sep := "+"
		if i == 0 {
			sep = ":"
		}
		name += sep + s.Name()
	}
	return name
}

// Write delivers b to every sink.
func (m *Multi) Write(ctx context.Context, b telemetry.Batch) error {
	for _, s := range m.sinks {
		start := time.Now()
		err := s.Write(ctx, b)
		if m.observer != nil {
			m.observer(s.Name(), time.Since(start), err)
		}
		if err != nil {
			return err
		}
		m.log.Debug("sink_write",
			slog.String("sink", s.Name()),
			slog.String("variant", b.Variant.String()),
			slog.Int("records", b.Len()),
		)
	}
	return nil
}

// Close closes every sink and joins the errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
