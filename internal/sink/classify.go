// v0
// internal/sink/classify.go
package sink

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
)

// rejected reports whether err is the destination refusing the records
// themselves (duplicate key, validation, oversized message, bad topic). A
// retry would get the same answer.
func rejected(err error) bool {
	if err == nil {
		return false
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		return len(we.WriteErrors) > 0 && we.WriteConcernError == nil
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		return len(bwe.WriteErrors) > 0 && bwe.WriteConcernError == nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		found := false
		for _, e := range werrs {
			if e == nil {
				continue
			}
			if !rejected(e) {
				return false
			}
			found = true
		}
		return found
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return !kerr.Temporary()
	}
	return false
}

// classify marks rejections Permanent so the breaker neither retries nor
// counts them.
func classify(err error) error {
	if err == nil || circuitbreaker.IsPermanent(err) {
		return err
	}
	if rejected(err) {
		return circuitbreaker.Permanent(err)
	}
	return err
}

// classifyingWriter applies classify to a producer's errors before they
// reach the breaker.
type classifyingWriter struct {
	next messageWriter
}

func (w classifyingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return classify(w.next.WriteMessages(ctx, msgs...))
}
