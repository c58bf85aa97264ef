// v0
// internal/sink/store.go
package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

// RecordStore is the write side of internal/store.
type RecordStore interface {
	InsertRecords(ctx context.Context, v telemetry.Variant, day string, records []telemetry.Record) error
	Close() error
}

// Store writes batches to a RecordStore chunk by chunk, each chunk through
// the breaker policy.
type Store struct {
	name   string
	store  RecordStore
	policy *circuitbreaker.Policy
	chunk  int
	log    *slog.Logger
}

// NewStore wraps store under name ("mongo", "sqlite").
func NewStore(name string, store RecordStore, policy *circuitbreaker.Policy, chunkSize int, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{name: name, store: store, policy: policy, chunk: chunkSize, log: log}
}

// Name identifies the sink in logs and metrics.
func (s *Store) Name() string { return s.name }

// Write inserts the batch under its storage date.
func (s *Store) Write(ctx context.Context, b telemetry.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if b.Date == "" {
		return unavailable(s.name, circuitbreaker.Permanent(fmt.Errorf("batch %s has no storage date", b.Variant)))
	}
	for i, part := range chunks(b.Records, s.chunk) {
		err := s.policy.Do(ctx, func(execCtx context.Context) error {
			return classify(s.store.InsertRecords(execCtx, b.Variant, b.Date, part))
		})
		if err != nil {
			return unavailable(s.name, fmt.Errorf("chunk %d of %s/%s: %w", i, b.Variant, b.Date, err))
		}
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.store.Close()
}
