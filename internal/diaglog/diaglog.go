// v0
// internal/diaglog/diaglog.go
package diaglog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

// Entry describes one payload that could not be turned into records.
type Entry struct {
	Variant telemetry.Variant
	Reason  string
	Err     error
	Topic   string
	Payload []byte
}

type line struct {
	ID          string          `json:"id"`
	At          string          `json:"at"`
	Variant     string          `json:"variant"`
	Reason      string          `json:"reason,omitempty"`
	Error       string          `json:"error"`
	Topic       string          `json:"topic,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PayloadText string          `json:"payload_text,omitempty"`
}

// Writer appends JSON lines to <dir>/<VARIANT>_ERROR/error_YYYYMMDD.jsonl.
type Writer struct {
	mu  sync.Mutex
	dir string
	loc *time.Location
	now func() time.Time
}

// NewWriter returns a writer rooted at dir. Dates are taken in loc.
func NewWriter(dir string, loc *time.Location) *Writer {
	if loc == nil {
		loc = time.UTC
	}
	return &Writer{dir: dir, loc: loc, now: time.Now}
}

// Malformed records e and returns the entry id.
func (w *Writer) Malformed(e Entry) (string, error) {
	if w == nil {
		return "", nil
	}
	now := w.now().In(w.loc)
	rec := line{
		ID:      uuid.NewString(),
		At:      now.Format(time.RFC3339Nano),
		Variant: e.Variant.String(),
		Reason:  e.Reason,
		Topic:   e.Topic,
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	if len(e.Payload) > 0 {
		if json.Valid(e.Payload) {
			rec.Payload = json.RawMessage(e.Payload)
		} else {
			rec.PayloadText = string(e.Payload)
		}
	}
	path := filepath.Join(w.dir, e.Variant.String()+"_ERROR", "error_"+now.Format(telemetry.DateLayout)+".jsonl")
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := appendJSON(path, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Archive keeps raw payloads per device and arrival day under
// <dir>/<VARIANT>/YYYYMMDD_<sensor>_<phone>.jsonl.
type Archive struct {
	mu  sync.Mutex
	dir string
	loc *time.Location
	now func() time.Time
}

// NewArchive returns an archive rooted at dir, or nil when dir is empty.
// Arrival days are taken in loc.
func NewArchive(dir string, loc *time.Location) *Archive {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Archive{dir: dir, loc: loc, now: time.Now}
}

// Store appends payload before it is expanded. A TITLE that does not parse
// sends the payload to YYYYMMDD_untitled.jsonl of its variant. Payloads that
// are not JSON are rejected.
func (a *Archive) Store(p telemetry.RawPayload, payload []byte) error {
	if a == nil {
		return nil
	}
	if !json.Valid(payload) {
		return errors.New("archive: payload is not JSON")
	}
	day := a.now().In(a.loc).Format(telemetry.DateLayout)
	name := day + "_untitled.jsonl"
	o, err := telemetry.OriginOf(p)
	if err == nil {
		name = fmt.Sprintf("%s_%s_%s.jsonl", day, safe(o.SensorID), safe(o.PhoneNum))
	}
	path := filepath.Join(a.dir, o.Variant.String(), name)
	a.mu.Lock()
	defer a.mu.Unlock()
	return appendJSON(path, json.RawMessage(payload))
}

func appendJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}

// safe keeps device identifiers from escaping the archive directory.
func safe(s string) string {
	if s == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '-'
		}
		return r
	}, s)
}
