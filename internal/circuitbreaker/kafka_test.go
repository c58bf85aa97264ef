// v1
// internal/circuitbreaker/kafka_test.go
package circuitbreaker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestNewPolicyFromEnv(t *testing.T) {
	t.Setenv("CB_ENABLED", "true")
	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "4")
	t.Setenv("CB_KAFKA_SUCCESS_THRESHOLD", "3")
	t.Setenv("CB_KAFKA_OPEN_SECONDS", "0.05")
	t.Setenv("CB_KAFKA_TIMEOUT_MS", "150")
	t.Setenv("CB_KAFKA_BACKOFF_MS", "25")

	p, err := NewPolicyFromEnv("env-breaker", "kafka", slog.Default(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Enabled() {
		t.Fatalf("expected breaker enabled")
	}
	if p.failureThreshold != 4 {
		t.Fatalf("expected failure threshold 4, got %d", p.failureThreshold)
	}
	if p.timeout != 150*time.Millisecond {
		t.Fatalf("expected timeout 150ms, got %s", p.timeout)
	}
	if p.backoff != 25*time.Millisecond {
		t.Fatalf("expected backoff 25ms, got %s", p.backoff)
	}
	if p.breaker == nil {
		t.Fatalf("breaker must be allocated when enabled")
	}
	if p.breaker.cfg.SuccessesToClose != 3 {
		t.Fatalf("expected success threshold 3, got %d", p.breaker.cfg.SuccessesToClose)
	}
}

func TestNewPolicyFromEnvScopes(t *testing.T) {
	t.Setenv("CB_ENABLED", "1")
	t.Setenv("CB_MONGO_FAILURE_THRESHOLD", "7")
	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "0")

	p, err := NewPolicyFromEnv("mongo-sink", "mongo", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.failureThreshold != 7 {
		t.Fatalf("expected scoped threshold 7, got %d", p.failureThreshold)
	}
	if _, err := NewPolicyFromEnv("kafka-sink", "kafka", nil, nil); err == nil {
		t.Fatalf("expected validation error for zero threshold")
	}
	t.Setenv("CB_SQLITE_BACKOFF_MS", "soon")
	if _, err := NewPolicyFromEnv("sqlite-sink", "sqlite", nil, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCBKafkaWriterRetryAndStateTransitions(t *testing.T) {
	t.Setenv("CB_ENABLED", "true")
	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "2")
	t.Setenv("CB_KAFKA_SUCCESS_THRESHOLD", "2")
	t.Setenv("CB_KAFKA_OPEN_SECONDS", "0.05")
	t.Setenv("CB_KAFKA_TIMEOUT_MS", "50")
	t.Setenv("CB_KAFKA_BACKOFF_MS", "10")

	var logBuf bytes.Buffer
	var logMu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{mu: &logMu, w: &logBuf}, nil))

	p, err := NewPolicyFromEnv("writer-breaker", "kafka", logger, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var seen []State
	p.OnStateChange(func(name string, s State) {
		if name != "writer-breaker" {
			t.Errorf("unexpected breaker name %q", name)
		}
		seen = append(seen, s)
	})

	stub := &stubKafkaWriter{failuresBeforeSuccess: 2}
	writer := NewCBKafkaWriter(stub, p)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := writer.WriteMessages(ctx, kafka.Message{Value: []byte("payload")}); err != nil {
		t.Fatalf("unexpected error on write: %v", err)
	}
	if p.Breaker().State() != HalfOpen {
		t.Fatalf("expected breaker to remain half-open after first success, got %v", p.Breaker().State())
	}
	if err := writer.WriteMessages(ctx, kafka.Message{Value: []byte("payload")}); err != nil {
		t.Fatalf("second write should succeed, got %v", err)
	}
	if p.Breaker().State() != Closed {
		t.Fatalf("expected breaker closed after second success, got %v", p.Breaker().State())
	}
	if stub.calls < 4 {
		t.Fatalf("expected at least 4 write attempts, got %d", stub.calls)
	}

	want := []State{Closed, Open, HalfOpen, Closed}
	if len(seen) != len(want) {
		t.Fatalf("unexpected transitions %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("unexpected transitions %v", seen)
		}
	}

	logMu.Lock()
	logs := logBuf.String()
	logMu.Unlock()
	for _, event := range []string{"breaker_opened", "breaker_half_open", "breaker_closed"} {
		if !strings.Contains(logs, event) {
			t.Fatalf("expected %s log, got %q", event, logs)
		}
	}
}

func TestPolicyDoStopsOnPermanent(t *testing.T) {
	t.Setenv("CB_ENABLED", "true")
	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "3")
	t.Setenv("CB_KAFKA_BACKOFF_MS", "1")

	p, err := NewPolicyFromEnv("permanent", "kafka", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rejected := errors.New("document rejected")
	calls := 0
	err = p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(rejected)
	})
	if !errors.Is(err, rejected) || !IsPermanent(err) {
		t.Fatalf("expected permanent rejection, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", calls)
	}
	if p.Breaker().State() != Closed {
		t.Fatalf("permanent errors must not trip the breaker")
	}
}

func TestPolicyDoOpensAfterThreshold(t *testing.T) {
	t.Setenv("CB_ENABLED", "true")
	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "3")
	t.Setenv("CB_KAFKA_OPEN_SECONDS", "60")
	t.Setenv("CB_KAFKA_BACKOFF_MS", "1")

	p, err := NewPolicyFromEnv("exhaust", "kafka", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	calls := 0
	err = p.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("broker down")
	})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts before opening, got %d", calls)
	}
	if p.Breaker().State() != Open {
		t.Fatalf("expected open breaker, got %v", p.Breaker().State())
	}
}

func TestPolicyDisabledRunsOnce(t *testing.T) {
	t.Setenv("CB_ENABLED", "false")
	p, err := NewPolicyFromEnv("off", "kafka", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := 0
	boom := errors.New("boom")
	if err := p.Do(context.Background(), func(context.Context) error { calls++; return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
	var nilPolicy *Policy
	if err := nilPolicy.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("nil policy should run op: %v", err)
	}
}

func TestCBKafkaReaderDisabled(t *testing.T) {
	t.Setenv("CB_ENABLED", "false")

	p, err := NewPolicyFromEnv("reader-breaker", "kafka", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Enabled() {
		t.Fatalf("expected breaker disabled")
	}

	msg := kafka.Message{Topic: "demo", Value: []byte("v")}
	reader := &stubKafkaReader{message: msg}
	wrapped := NewCBKafkaReader(reader, p)

	out, err := wrapped.FetchMessage(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reader.calls != 1 {
		t.Fatalf("expected single call when breaker disabled, got %d", reader.calls)
	}
	if string(out.Value) != string(msg.Value) {
		t.Fatalf("expected %q, got %q", msg.Value, out.Value)
	}
}

func TestCBKafkaReaderPollTimeoutDoesNotTrip(t *testing.T) {
	t.Setenv("CB_ENABLED", "true")
	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "1")

	p, err := NewPolicyFromEnv("reader-breaker", "kafka", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wrapped := NewCBKafkaReader(&blockingKafkaReader{}, p)
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := wrapped.FetchMessage(ctx)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		if IsPermanent(err) {
			t.Fatalf("permanent marker must be stripped")
		}
	}
	if p.Breaker().State() != Closed {
		t.Fatalf("poll timeouts must not open the breaker")
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type stubKafkaWriter struct {
	mu                    sync.Mutex
	calls                 int
	failuresBeforeSuccess int
}

func (s *stubKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.calls++
	if s.calls <= s.failuresBeforeSuccess {
		return errors.New("synthetic failure")
	}
	return nil
}

type stubKafkaReader struct {
	mu      sync.Mutex
	calls   int
	message kafka.Message
}

func (s *stubKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return kafka.Message{}, ctx.Err()
	}
	s.calls++
	return s.message, nil
}

type blockingKafkaReader struct{}

func (blockingKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}
