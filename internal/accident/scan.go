// v0
// internal/accident/scan.go
package accident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

// RecordSource reads persisted records. internal/store implements it.
type RecordSource interface {
	Sensors(ctx context.Context, day string) ([]string, error)
	Records(ctx context.Context, day, sensorID string) ([]telemetry.Record, error)
}

// Notifier receives every detected incident.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Scanner runs Detect over the stored records of one day, per sensor and per
// fixed window.
type Scanner struct {
	src      RecordSource
	window   time.Duration
	notifier Notifier
	log      *slog.Logger
}

// NewScanner builds a scanner. A non-positive window scans each sensor's day
// as one window; notifier may be nil.
func NewScanner(src RecordSource, window time.Duration, notifier Notifier, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{src: src, window: window, notifier: notifier, log: log}
}

// Scan returns the incidents found on day. A notification failure is logged
// and reported after the scan completes.
func (s *Scanner) Scan(ctx context.Context, day string) ([]Summary, error) {
	sensors, err := s.src.Sensors(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}
	s.log.Info("scan_start", slog.String("day", day), slog.Int("sensors", len(sensors)), slog.Duration("window", s.window))

	var (
		found     []Summary
		notifyErr []error
	)
	for _, sensor := range sensors {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		records, err := s.src.Records(ctx, day, sensor)
		if err != nil {
			return found, fmt.Errorf("records of %s: %w", sensor, err)
		}
		for _, w := range windows(records, s.window) {
			sum, ok := Detect(w)
			if !ok {
				continue
			}
			sum.Date = day
			sum.SensorID = sensor
			found = append(found, sum)
			s.log.Warn("accident_detected",
				slog.String("sensor_id", sensor),
				slog.Int64("accident_time", sum.AccidentTime),
				slog.String("direction", string(sum.FallenDirection)),
				slog.Float64("impact_xyz", sum.ImpactXYZ),
			)
			if s.notifier != nil {
				if err := s.notifier.Notify(ctx, sum); err != nil {
					s.log.Error("notify_failed", slog.String("sensor_id", sensor), slog.Any("err", err))
					notifyErr = append(notifyErr, err)
				}
			}
		}
		if len(records) > 0 {
			s.log.Debug("sensor_scanned", slog.String("sensor_id", sensor), slog.Int("records", len(records)))
		}
	}
	s.log.Info("scan_complete", slog.String("day", day), slog.Int("incidents", len(found)))
	return found, errors.Join(notifyErr...)
}

// windows splits time-ordered records by epoch index time/window.
func windows(records []telemetry.Record, window time.Duration) [][]telemetry.Record {
	if len(records) == 0 {
		return nil
	}
	ms := window.Milliseconds()
	if ms <= 0 {
		return [][]telemetry.Record{records}
	}
	var (
		out   [][]telemetry.Record
		start int
	)
	epoch := records[0].Time / ms
	for i := 1; i < len(records); i++ {
		if e := records[i].Time / ms; e != epoch {
			out = append(out, records[start:i])
			start, epoch = i, e
		}
	}
	return append(out, records[start:])
}
