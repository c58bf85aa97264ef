// v0
// cmd/accident/main_test.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddaddaradda/message-consumer/internal/store"
	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

func testOptions(t *testing.T) options {
	t.Helper()
	dir := t.TempDir()
	return options{
		day:      "20240101",
		source:   "sqlite",
		sqlite:   filepath.Join(dir, "telemetry.db"),
		window:   time.Minute,
		logPath:  filepath.Join(dir, "logs", "accident.log"),
		logLevel: "info",
	}
}

func TestRunPrintsIncidents(t *testing.T) {
	opts := testOptions(t)
	db, err := store.OpenSQLite(opts.sqlite, nil)
	require.NoError(t, err)
	require.NoError(t, db.InsertRecords(context.Background(), telemetry.VariantBLE, opts.day, []telemetry.Record{{
		SensorID: "S1",
		PhoneNum: "P1",
		Time:     1000,
		Motion:   &telemetry.Motion{AccelX: 20000, AccelZ: 100, GyroY: -4000},
		Position: telemetry.Position{Lat: 37.5, Lon: 127.0, Velocity: 20},
	}}))
	require.NoError(t, db.Close())

	var out bytes.Buffer
	require.NoError(t, run(opts, &out))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "S1", got["sensor_id"])
	assert.Equal(t, "LEFT", got["fallen_direction"])

	logs, err := os.ReadFile(opts.logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logs), "accident_notice")
}

func TestRunReturnsSourceErrors(t *testing.T) {
	opts := testOptions(t)
	opts.source = "csv"

	var out bytes.Buffer
	err := run(opts, &out)
	require.Error(t, err)
	assert.Zero(t, out.Len())

	logs, readErr := os.ReadFile(opts.logPath)
	require.NoError(t, readErr)
	if !strings.Contains(string(logs), "source_open_failed") {
		t.Fatalf("expected source failure in log, got %s", logs)
	}
}
