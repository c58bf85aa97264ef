// v0
// internal/telemetry/errors.go
package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedVariant reports a payload whose key set matches no variant.
	// Callers log and drop it.
	ErrUnrecognizedVariant = errors.New("unrecognized payload variant")
	// ErrMalformedPayload reports a payload that matched a variant but failed
	// structural validation. It fails identically on every retry.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrSinkUnavailable reports a transient failure while emitting records.
	ErrSinkUnavailable = errors.New("sink unavailable")
)

// Reason classifies why a payload was rejected.
type Reason string

const (
	ReasonDecode     Reason = "decode"
	ReasonMissingKey Reason = "missing_key"
	ReasonTitle      Reason = "title_format"
	ReasonStride     Reason = "stride"
	ReasonIndexRange Reason = "index_range"
	ReasonType       Reason = "type"
	ReasonBurst      Reason = "burst_size"
)

// MalformedError carries the diagnostic context of a rejected payload.
type MalformedError struct {
	Variant Variant
	Reason  Reason
	Field   string
	Detail  string
	Payload []byte
}

func (e *MalformedError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %s payload: %s: %s", e.Variant, e.Reason, e.Detail)
	}
	return fmt.Sprintf("malformed %s payload: %s %s: %s", e.Variant, e.Reason, e.Field, e.Detail)
}

func (e *MalformedError) Unwrap() error { return ErrMalformedPayload }

func malformed(reason Reason, field, format string, args ...any) *MalformedError {
	return &MalformedError{Reason: reason, Field: field, Detail: fmt.Sprintf(format, args...)}
}
