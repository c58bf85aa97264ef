// v0
// internal/diaglog/diaglog_test.go
package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestWriterMalformed(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, time.UTC)
	w.now = func() time.Time { return time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC) }

	id, err := w.Malformed(Entry{
		Variant: telemetry.VariantLTE,
		Reason:  "stride",
		Err:     errors.New("IMU[0].1.ACCEL: length 4 not divisible by 3"),
		Topic:   "rider.ltev1.raw",
		Payload: []byte(`{"TITLE":"s_p"}`),
	})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	_, err = w.Malformed(Entry{Variant: telemetry.VariantUnknown, Err: errors.New("decode"), Payload: []byte("not json")})
	require.NoError(t, err)

	lines := readLines(t, filepath.Join(dir, "LTE_ERROR", "error_20240309.jsonl"))
	require.Len(t, lines, 1)
	assert.Equal(t, id, lines[0]["id"])
	assert.Equal(t, "LTE", lines[0]["variant"])
	assert.Equal(t, "stride", lines[0]["reason"])
	assert.Equal(t, "rider.ltev1.raw", lines[0]["topic"])
	assert.Equal(t, map[string]any{"TITLE": "s_p"}, lines[0]["payload"])

	unknown := readLines(t, filepath.Join(dir, "UNKNOWN_ERROR", "error_20240309.jsonl"))
	require.Len(t, unknown, 1)
	assert.Equal(t, "not json", unknown[0]["payload_text"])
	assert.NotContains(t, unknown[0], "payload")
}

func TestWriterUsesLocationForDate(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, time.FixedZone("KST", 9*3600))
	w.now = func() time.Time { return time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC) }
	_, err := w.Malformed(Entry{Variant: telemetry.VariantBLE, Err: errors.New("x")})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "BLE_ERROR", "error_20240310.jsonl"))
	assert.NoError(t, err)
}

func TestNilWriterAndArchive(t *testing.T) {
	var w *Writer
	_, err := w.Malformed(Entry{})
	assert.NoError(t, err)
	assert.Nil(t, NewArchive(" ", nil))
	var a *Archive
	assert.NoError(t, a.Store(telemetry.RawPayload{}, []byte("{}")))
}

func decode(t *testing.T, raw string) telemetry.RawPayload {
	t.Helper()
	p, err := telemetry.DecodePayload([]byte(raw))
	require.NoError(t, err)
	return p
}

func TestArchiveStore(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, time.FixedZone("KST", 9*3600))
	a.now = func() time.Time { return time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC) }

	ble := `{"TITLE":"S/1_P1_20240101","IMU":[],"GNSS":{},"n":%d}`
	require.NoError(t, a.Store(decode(t, fmt.Sprintf(ble, 1)), []byte(fmt.Sprintf(ble, 1))))
	require.NoError(t, a.Store(decode(t, fmt.Sprintf(ble, 2)), []byte(fmt.Sprintf(ble, 2))))
	assert.Error(t, a.Store(decode(t, fmt.Sprintf(ble, 3)), []byte("{")))

	lines := readLines(t, filepath.Join(dir, "BLE", "20240310_S-1_P1.jsonl"))
	require.Len(t, lines, 2)
	assert.Equal(t, float64(2), lines[1]["n"])

	nonesub := `{"TITLE":"P1_20240101","TIME":1,"GNSS":{}}`
	require.NoError(t, a.Store(decode(t, nonesub), []byte(nonesub)))
	_, err := os.Stat(filepath.Join(dir, "NONESUB", "20240310_none_P1.jsonl"))
	assert.NoError(t, err)
}

func TestArchiveStoreUntitled(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, time.UTC)
	a.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }

	for _, raw := range []string{
		`{"TITLE":"S1","IMU":[],"GNSS":{}}`,
		`{"IMU":[],"GNSS":{}}`,
	} {
		require.NoError(t, a.Store(decode(t, raw), []byte(raw)))
	}
	require.NoError(t, a.Store(decode(t, `{"HELLO":1}`), []byte(`{"HELLO":1}`)))

	assert.Len(t, readLines(t, filepath.Join(dir, "BLE", "20240309_untitled.jsonl")), 2)
	assert.Len(t, readLines(t, filepath.Join(dir, "UNKNOWN", "20240309_untitled.jsonl")), 1)
}
