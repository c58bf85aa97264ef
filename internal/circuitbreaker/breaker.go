// v1
// internal/circuitbreaker/breaker.go
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the breaker fast-fails calls.
var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before probing
	SuccessesToClose int           // successes required in HalfOpen before closing
}

// StateListener observes transitions, e.g. to export a gauge.
type StateListener func(name string, s State)

// Breaker guards calls to one downstream dependency.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	probe  func(ctx context.Context) error

	mu          sync.Mutex
	state       State
	recentFails int
	halfOK      int
	openedAt    time.Time
	listener    StateListener
	now         func() time.Time
}

// New returns a closed breaker. probe may be nil; when set it runs before the
// first call after the open period and must succeed for the call to proceed.
func New(name string, cfg Config, logger *slog.Logger, probe func(ctx context.Context) error) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.SuccessesToClose < 1 {
		cfg.SuccessesToClose = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(slog.String("breaker", name)),
		probe:  probe,
		state:  Closed,
		now:    time.Now,
	}
	b.logger.Info("breaker_created", slog.Int("max_failures", cfg.MaxFailures), slog.Duration("reset_timeout", cfg.ResetTimeout))
	return b
}

// OnStateChange registers fn and immediately reports the current state.
func (b *Breaker) OnStateChange(fn StateListener) {
	b.mu.Lock()
	b.listener = fn
	state := b.state
	b.mu.Unlock()
	if fn != nil {
		fn(b.name, state)
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op unless the breaker is open. Errors marked Permanent are
// returned as-is and do not count as failures.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.state == Open {
		since := b.now().Sub(b.openedAt)
		if since < b.cfg.ResetTimeout {
			b.mu.Unlock()
			b.logger.Debug("breaker_fast_fail", slog.Duration("since_open", since))
			return ErrOpen
		}
		b.transition(HalfOpen)
		b.halfOK = 0
		b.mu.Unlock()

		if b.probe != nil {
			if err := b.probe(ctx); err != nil {
				b.logger.Warn("breaker_probe_failed", slog.String("error", err.Error()))
				b.mu.Lock()
				b.trip()
				b.mu.Unlock()
				return ErrOpen
			}
			b.logger.Info("breaker_probe_ok")
		}
	} else {
		b.mu.Unlock()
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	if b.onFailure(err) {
		return fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return err
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.halfOK++
		if b.halfOK >= b.cfg.SuccessesToClose {
			b.recentFails = 0
			b.transition(Closed)
		}
	default:
		b.recentFails = 0
	}
}

// onFailure records err and reports whether the breaker is now open.
func (b *Breaker) onFailure(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.logger.Warn("operation_failure", slog.Int("failures", b.recentFails), slog.String("error", err.Error()))
	if b.state == HalfOpen || b.recentFails >= b.cfg.MaxFailures {
		b.trip()
		return true
	}
	return false
}

// trip opens the breaker; callers hold mu.
func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.transition(Open)
}

// transition moves to s and notifies the listener; callers hold mu.
func (b *Breaker) transition(s State) {
	if b.state == s {
		if s == Open {
			b.logger.Warn("breaker_reopened")
		}
		return
	}
	from := b.state
	b.state = s
	switch s {
	case Open:
		b.logger.Error("breaker_opened", slog.String("from", from.String()), slog.Int("failures", b.recentFails))
	case HalfOpen:
		b.logger.Info("breaker_half_open")
	case Closed:
		b.logger.Info("breaker_closed", slog.String("from", from.String()))
	}
	if b.listener != nil {
		b.listener(b.name, s)
	}
}
