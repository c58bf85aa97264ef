// v0
// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite keeps expanded samples in a local database file.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations.
func OpenSQLite(path string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	s := &SQLite{db: db, log: log}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite_ready", slog.String("path", path))
	return s, nil
}

func (s *SQLite) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	// The migrate instance is not closed: closing it closes s.db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{log: s.log}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct {
	log *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debug("migrate", slog.String("msg", fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }

const insertSample = `INSERT INTO samples (
	variant, day, sensor_id, phone_num, time,
	accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z, pitch, roll,
	lat, lon, velocity, altitude, bearing, trip_time, distance
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertRecords writes records in one transaction, in order.
func (s *SQLite) InsertRecords(ctx context.Context, v telemetry.Variant, day string, records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSample)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		motion := [8]sql.NullFloat64{}
		if m := r.Motion; m != nil {
			for i, f := range []float64{m.AccelX, m.AccelY, m.AccelZ, m.GyroX, m.GyroY, m.GyroZ, m.Pitch, m.Roll} {
				motion[i] = sql.NullFloat64{Float64: f, Valid: true}
			}
		}
		var elapsed, distance sql.NullFloat64
		if r.Trip != nil {
			elapsed = sql.NullFloat64{Float64: r.Trip.Elapsed, Valid: true}
			distance = sql.NullFloat64{Float64: r.Trip.Distance, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			v.String(), day, r.SensorID, r.PhoneNum, r.Time,
			motion[0], motion[1], motion[2], motion[3], motion[4], motion[5], motion[6], motion[7],
			r.Lat, r.Lon, r.Velocity, r.Altitude, r.Bearing, elapsed, distance,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert sample %s@%d: %w", r.PhoneNum, r.Time, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Sensors lists the sensors with samples on day.
func (s *SQLite) Sensors(ctx context.Context, day string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT sensor_id FROM samples WHERE day = ? AND sensor_id <> '' ORDER BY sensor_id`, day)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Records returns the samples of one sensor on day ordered by time.
func (s *SQLite) Records(ctx context.Context, day, sensorID string) ([]telemetry.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sensor_id, phone_num, time,
		accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z, pitch, roll,
		lat, lon, velocity, altitude, bearing, trip_time, distance
		FROM samples WHERE day = ? AND sensor_id = ? ORDER BY time, id`, day, sensorID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Record
	for rows.Next() {
		var (
			r                 telemetry.Record
			motion            [8]sql.NullFloat64
			elapsed, distance sql.NullFloat64
		)
		if err := rows.Scan(&r.SensorID, &r.PhoneNum, &r.Time,
			&motion[0], &motion[1], &motion[2], &motion[3], &motion[4], &motion[5], &motion[6], &motion[7],
			&r.Lat, &r.Lon, &r.Velocity, &r.Altitude, &r.Bearing, &elapsed, &distance,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if motion[0].Valid {
			r.Motion = &telemetry.Motion{
				AccelX: motion[0].Float64, AccelY: motion[1].Float64, AccelZ: motion[2].Float64,
				GyroX: motion[3].Float64, GyroY: motion[4].Float64, GyroZ: motion[5].Float64,
				Pitch: motion[6].Float64, Roll: motion[7].Float64,
			}
		}
		if elapsed.Valid {
			r.Trip = &telemetry.Trip{Elapsed: elapsed.Float64, Distance: distance.Float64}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
