// v0
// internal/telemetry/dispatch.go
package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// DefaultTimezone is the zone timestamp-derived partitions are computed in.
const DefaultTimezone = "Asia/Seoul"

// Dispatcher classifies payloads and expands them into records. It holds no
// mutable state and is safe for concurrent use.
type Dispatcher struct {
	loc *time.Location
}

// NewDispatcher returns a Dispatcher deriving storage dates in loc (UTC when nil).
func NewDispatcher(loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{loc: loc}
}

// Dispatch classifies p and runs the matching expander. Unknown shapes return
// an error wrapping ErrUnrecognizedVariant; validation failures return a
// *MalformedError carrying the variant and the payload.
func (d *Dispatcher) Dispatch(p RawPayload) (Batch, error) {
	v := Classify(p)
	var (
		b   Batch
		err error
	)
	switch v {
	case VariantBLE:
		b, err = expandBLE(p)
	case VariantLTE:
		b, err = expandLTE(p, v, LTEInterval, d.loc)
	case VariantLTEV2:
		b, err = expandLTE(p, v, LTEV2Interval, d.loc)
	case VariantNonesub:
		b, err = expandNonesub(p, d.loc)
	default:
		return Batch{Variant: VariantUnknown}, fmt.Errorf("keys %v: %w", p.Keys(), ErrUnrecognizedVariant)
	}
	if err != nil {
		var me *MalformedError
		if errors.As(err, &me) {
			me.Variant = v
			me.Payload = p.Bytes()
			return Batch{Variant: v}, me
		}
		return Batch{Variant: v}, err
	}
	return b, nil
}

// DispatchBytes decodes raw and dispatches it.
func (d *Dispatcher) DispatchBytes(raw []byte) (Batch, error) {
	p, err := DecodePayload(raw)
	if err != nil {
		return Batch{}, err
	}
	return d.Dispatch(p)
}
