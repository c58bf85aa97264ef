// v0
// internal/ingest/source.go
package ingest

import (
	"context"
	"errors"
)

// ErrClosed is returned by Fetch once the source has been closed.
var ErrClosed = errors.New("ingest: source closed")

// Delivery is one raw message pulled from an inbound transport.
type Delivery struct {
	Source    string
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte

	commit func(ctx context.Context) error
}

// Commit acknowledges the delivery. Uncommitted deliveries are redelivered
// after a restart or rebalance.
func (d Delivery) Commit(ctx context.Context) error {
	if d.commit == nil {
		return nil
	}
	return d.commit(ctx)
}

// NewDelivery builds a delivery with a custom acknowledgment hook.
func NewDelivery(source, topic string, value []byte, commit func(ctx context.Context) error) Delivery {
	return Delivery{Source: source, Topic: topic, Value: value, commit: commit}
}

// Source pulls one delivery at a time.
type Source interface {
	// Fetch blocks until a delivery is available or ctx ends.
	Fetch(ctx context.Context) (Delivery, error)
	Close() error
}
