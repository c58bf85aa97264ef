// v2
// internal/circuitbreaker/policy.go
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Policy is a breaker plus the bounded retry loop that drives it. Sinks and
// the Kafka fetch path each own one.
type Policy struct {
	name             string
	enabled          bool
	failureThreshold int
	timeout          time.Duration
	backoff          time.Duration
	breaker          *Breaker
}

// Enabled reports whether breaker protections are active.
func (p *Policy) Enabled() bool {
	return p != nil && p.enabled && p.breaker != nil
}

// Breaker exposes the underlying breaker for inspection and testing.
func (p *Policy) Breaker() *Breaker {
	if p == nil {
		return nil
	}
	return p.breaker
}

// Name returns the policy name.
func (p *Policy) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// OnStateChange forwards breaker transitions to fn. No-op when disabled.
func (p *Policy) OnStateChange(fn StateListener) {
	if p.Enabled() {
		p.breaker.OnStateChange(fn)
	}
}

// NewPolicyFromEnv builds a Policy from CB_ENABLED and the CB_<SCOPE>_* keys:
//   - CB_<SCOPE>_FAILURE_THRESHOLD (default: 5)
//   - CB_<SCOPE>_SUCCESS_THRESHOLD (default: 2)
//   - CB_<SCOPE>_OPEN_SECONDS (default: 30)
//   - CB_<SCOPE>_TIMEOUT_MS (default: 3000)
//   - CB_<SCOPE>_BACKOFF_MS (default: 200)
//
// Scope is upper-cased, e.g. "kafka" reads CB_KAFKA_FAILURE_THRESHOLD.
func NewPolicyFromEnv(name, scope string, logger *slog.Logger, probe func(ctx context.Context) error) (*Policy, error) {
	prefix := "CB_" + strings.ToUpper(strings.TrimSpace(scope)) + "_"
	enabled := parseEnvBool("CB_ENABLED")

	failureThreshold, err := parseEnvInt(prefix+"FAILURE_THRESHOLD", 5)
	if err != nil {
		return nil, err
	}
	successThreshold, err := parseEnvInt(prefix+"SUCCESS_THRESHOLD", 2)
	if err != nil {
		return nil, err
	}
	openSeconds, err := parseEnvFloat(prefix+"OPEN_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	timeoutMS, err := parseEnvInt(prefix+"TIMEOUT_MS", 3000)
	if err != nil {
		return nil, err
	}
	backoffMS, err := parseEnvInt(prefix+"BACKOFF_MS", 200)
	if err != nil {
		return nil, err
	}

	if failureThreshold < 1 {
		return nil, fmt.Errorf("%sFAILURE_THRESHOLD must be >= 1", prefix)
	}
	if successThreshold < 1 {
		return nil, fmt.Errorf("%sSUCCESS_THRESHOLD must be >= 1", prefix)
	}
	if openSeconds <= 0 {
		return nil, fmt.Errorf("%sOPEN_SECONDS must be > 0", prefix)
	}
	if timeoutMS < 0 {
		return nil, fmt.Errorf("%sTIMEOUT_MS must be >= 0", prefix)
	}
	if backoffMS < 0 {
		return nil, fmt.Errorf("%sBACKOFF_MS must be >= 0", prefix)
	}

	p := &Policy{
		name:             name,
		enabled:          enabled,
		failureThreshold: failureThreshold,
		timeout:          time.Duration(timeoutMS) * time.Millisecond,
		backoff:          time.Duration(backoffMS) * time.Millisecond,
	}
	if enabled {
		cfg := Config{
			MaxFailures:      failureThreshold,
			ResetTimeout:     time.Duration(openSeconds * float64(time.Second)),
			SuccessesToClose: successThreshold,
		}
		p.breaker = New(name, cfg, logger, probe)
	}
	return p, nil
}

// Do runs op through the breaker. Plain failures are retried with backoff up
// to the failure threshold; ErrOpen waits out the backoff and tries again
// until ctx ends. Permanent errors return immediately. A disabled or nil
// policy runs op exactly once.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if !p.Enabled() {
		return op(ctx)
	}
	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempts++
		attemptCtx, cancel := p.withAttemptContext(ctx)
		err := p.breaker.Execute(attemptCtx, op)
		cancel()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrOpen) {
			if waitErr := p.waitBackoff(ctx); waitErr != nil {
				return waitErr
			}
			continue
		}
		if attempts >= p.failureThreshold {
			return err
		}
		if waitErr := p.waitBackoff(ctx); waitErr != nil {
			return waitErr
		}
	}
}

func (p *Policy) withAttemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Policy) waitBackoff(ctx context.Context) error {
	if p.backoff <= 0 {
		return nil
	}
	timer := time.NewTimer(p.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseEnvInt(key string, def int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def, nil
	}
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseEnvFloat(key string, def float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseEnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
