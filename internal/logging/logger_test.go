// v0
// internal/logging/logger_test.go
package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFansOut(t *testing.T) {
	var a, b bytes.Buffer
	logger := New(slog.LevelInfo, &a, &b).With(slog.String("component", "processor"))
	logger.Debug("hidden")
	logger.Info("consumer_start", slog.String("topic", "rider.ble.raw"))

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		out := buf.String()
		if !strings.Contains(out, "consumer_start") || !strings.Contains(out, "component=processor") {
			t.Fatalf("%s: unexpected output %q", name, out)
		}
		if strings.Contains(out, "hidden") {
			t.Fatalf("%s: debug entry leaked", name)
		}
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "processor.log")
	logger, f, err := Open(path, slog.LevelInfo)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	logger.Info("service_boot")
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "service_boot") {
		t.Fatalf("log file missing entry: %q", raw)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != slog.LevelDebug || ParseLevel("WARN") != slog.LevelWarn {
		t.Fatalf("unexpected level mapping")
	}
	if ParseLevel("loud") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}
