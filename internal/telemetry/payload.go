// v0
// internal/telemetry/payload.go
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Top-level payload keys.
const (
	KeyTitle    = "TITLE"
	KeyIMU      = "IMU"
	KeyGNSS     = "GNSS"
	KeyTravel   = "TRAVEL"
	KeyLocation = "LOCATION"
	KeyTime     = "TIME"
)

// RawPayload is one decoded inbound message. Values stay undecoded until the
// variant is known so that classification only looks at the key set.
type RawPayload map[string]json.RawMessage

// DecodePayload parses a queue message into a RawPayload. Anything that is not
// a JSON object is reported as a MalformedError with ReasonDecode.
func DecodePayload(raw []byte) (RawPayload, error) {
	var p RawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		me := malformed(ReasonDecode, "", "%v", err)
		me.Payload = raw
		return nil, me
	}
	if p == nil {
		me := malformed(ReasonDecode, "", "payload is not a JSON object")
		me.Payload = raw
		return nil, me
	}
	return p, nil
}

// Has reports whether the key is present, even with a null value.
func (p RawPayload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Keys returns the sorted key set.
func (p RawPayload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bytes re-encodes the payload for diagnostics.
func (p RawPayload) Bytes() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return b
}

// IMUSample is the content of one IMU bucket. A bucket may hold a burst of
// several samples laid out back to back.
type IMUSample struct {
	Accel    []float64
	Gyro     []float64
	Attitude []float64
}

// Bucket is one timestamp-keyed entry of the IMU sequence.
type Bucket struct {
	Key    string
	Time   int64
	Sample IMUSample
}

// GNSS is the payload-level position fix.
type GNSS struct {
	Lat      float64
	Lon      float64
	Velocity float64
	Altitude float64
	Bearing  float64
}

func (p RawPayload) require(key string) (json.RawMessage, error) {
	raw, ok := p[key]
	if !ok {
		return nil, malformed(ReasonMissingKey, key, "required key is absent")
	}
	return raw, nil
}

func (p RawPayload) title(segments int) ([]string, error) {
	raw, err := p.require(KeyTitle)
	if err != nil {
		return nil, err
	}
	var title string
	if err := json.Unmarshal(raw, &title); err != nil {
		return nil, malformed(ReasonType, KeyTitle, "expected string: %v", err)
	}
	parts := strings.Split(title, "_")
	if len(parts) != segments {
		return nil, malformed(ReasonTitle, KeyTitle, "%q has %d segments, want %d", title, len(parts), segments)
	}
	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			return nil, malformed(ReasonTitle, KeyTitle, "%q segment %d is empty", title, i)
		}
	}
	return parts, nil
}

func (p RawPayload) gnss() (GNSS, error) {
	raw, err := p.require(KeyGNSS)
	if err != nil {
		return GNSS{}, err
	}
	obj, err := decodeObject(raw, KeyGNSS)
	if err != nil {
		return GNSS{}, err
	}
	posRaw, ok := obj["POSITION"]
	if !ok {
		return GNSS{}, malformed(ReasonMissingKey, "GNSS.POSITION", "required key is absent")
	}
	pos, err := decodeNumbers(posRaw, "GNSS.POSITION")
	if err != nil {
		return GNSS{}, err
	}
	if len(pos) < 2 {
		return GNSS{}, malformed(ReasonIndexRange, "GNSS.POSITION", "has %d values, want lat and lon", len(pos))
	}
	g := GNSS{Lat: pos[0], Lon: pos[1]}
	if g.Velocity, err = objectNumber(obj, "VELOCITY", "GNSS.VELOCITY"); err != nil {
		return GNSS{}, err
	}
	if g.Altitude, err = objectNumber(obj, "ALTITUDE", "GNSS.ALTITUDE"); err != nil {
		return GNSS{}, err
	}
	if g.Bearing, err = objectNumber(obj, "BEARING", "GNSS.BEARING"); err != nil {
		return GNSS{}, err
	}
	return g, nil
}

func (p RawPayload) travel() (Trip, error) {
	raw, err := p.require(KeyTravel)
	if err != nil {
		return Trip{}, err
	}
	obj, err := decodeObject(raw, KeyTravel)
	if err != nil {
		return Trip{}, err
	}
	var t Trip
	if t.Elapsed, err = objectNumber(obj, "TIME", "TRAVEL.TIME"); err != nil {
		return Trip{}, err
	}
	if t.Distance, err = objectNumber(obj, "DISTANCE", "TRAVEL.DISTANCE"); err != nil {
		return Trip{}, err
	}
	return t, nil
}

func (p RawPayload) location() ([]float64, error) {
	raw, err := p.require(KeyLocation)
	if err != nil {
		return nil, err
	}
	return decodeNumbers(raw, KeyLocation)
}

func (p RawPayload) timestamp() (int64, error) {
	raw, err := p.require(KeyTime)
	if err != nil {
		return 0, err
	}
	return decodeMillis(raw, KeyTime)
}

// buckets walks the IMU array token by token so that the order of timestamp
// keys inside each object is preserved.
func (p RawPayload) buckets() ([]Bucket, error) {
	raw, err := p.require(KeyIMU)
	if err != nil {
		return nil, err
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, malformed(ReasonType, KeyIMU, "expected array of objects: %v", err)
	}
	var out []Bucket
	for i, entry := range entries {
		field := fmt.Sprintf("IMU[%d]", i)
		dec := json.NewDecoder(bytes.NewReader(entry))
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed(ReasonType, field, "%v", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			return nil, malformed(ReasonType, field, "expected object, got %v", tok)
		}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, malformed(ReasonType, field, "%v", err)
			}
			key, _ := keyTok.(string)
			keyField := field + "." + key
			ms, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
			if err != nil {
				return nil, malformed(ReasonType, keyField, "bucket key is not an epoch-ms integer")
			}
			var sampleRaw json.RawMessage
			if err := dec.Decode(&sampleRaw); err != nil {
				return nil, malformed(ReasonType, keyField, "%v", err)
			}
			sample, err := decodeSample(sampleRaw, keyField)
			if err != nil {
				return nil, err
			}
			out = append(out, Bucket{Key: key, Time: ms, Sample: sample})
		}
		if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
			return nil, malformed(ReasonType, field, "%v", err)
		}
	}
	return out, nil
}

func decodeSample(raw json.RawMessage, field string) (IMUSample, error) {
	obj, err := decodeObject(raw, field)
	if err != nil {
		return IMUSample{}, err
	}
	var s IMUSample
	if s.Accel, err = objectNumbers(obj, "ACCEL", field+".ACCEL"); err != nil {
		return IMUSample{}, err
	}
	if s.Gyro, err = objectNumbers(obj, "GYRO", field+".GYRO"); err != nil {
		return IMUSample{}, err
	}
	if s.Attitude, err = objectNumbers(obj, "ATTITUDE", field+".ATTITUDE"); err != nil {
		return IMUSample{}, err
	}
	return s, nil
}

func decodeObject(raw json.RawMessage, field string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, malformed(ReasonType, field, "expected object: %v", err)
	}
	if obj == nil {
		return nil, malformed(ReasonType, field, "expected object, got null")
	}
	return obj, nil
}

func decodeNumbers(raw json.RawMessage, field string) ([]float64, error) {
	var vals []float64
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, malformed(ReasonType, field, "expected array of numbers: %v", err)
	}
	if vals == nil {
		return nil, malformed(ReasonType, field, "expected array of numbers, got null")
	}
	return vals, nil
}

func decodeNumber(raw json.RawMessage, field string) (float64, error) {
	if quoted(raw) {
		return 0, malformed(ReasonType, field, "expected number, got string")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, malformed(ReasonType, field, "expected number: %v", err)
	}
	v, err := n.Float64()
	if err != nil {
		return 0, malformed(ReasonType, field, "expected number: %v", err)
	}
	return v, nil
}

// decodeMillis accepts integral and fractional numbers; fractions are truncated.
func decodeMillis(raw json.RawMessage, field string) (int64, error) {
	if quoted(raw) {
		return 0, malformed(ReasonType, field, "expected epoch-ms number, got string")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, malformed(ReasonType, field, "expected epoch-ms number: %v", err)
	}
	if ms, err := n.Int64(); err == nil {
		return ms, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, malformed(ReasonType, field, "expected epoch-ms number: %v", err)
	}
	return int64(f), nil
}

// quoted reports a JSON string; json.Number would otherwise accept "12".
func quoted(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

func objectNumber(obj map[string]json.RawMessage, key, field string) (float64, error) {
	raw, ok := obj[key]
	if !ok {
		return 0, malformed(ReasonMissingKey, field, "required key is absent")
	}
	return decodeNumber(raw, field)
}

func objectNumbers(obj map[string]json.RawMessage, key, field string) ([]float64, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, malformed(ReasonMissingKey, field, "required key is absent")
	}
	return decodeNumbers(raw, field)
}
