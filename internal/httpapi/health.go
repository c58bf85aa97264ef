// v0
// internal/httpapi/health.go
package httpapi

import (
	"context"
	"sort"
	"sync"
)

// Check probes one dependency for readiness.
type Check func(ctx context.Context) error

// HealthState tracks readiness. Liveness is always true while the process
// runs; readiness requires the flag plus every registered check.
type HealthState struct {
	mu     sync.RWMutex
	ready  bool
	checks map[string]Check
}

// NewHealthState starts not ready.
func NewHealthState() *HealthState {
	return &HealthState{checks: map[string]Check{}}
}

// SetReady flips the readiness flag.
func (h *HealthState) SetReady(value bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = value
}

// Ready reports the readiness flag alone.
func (h *HealthState) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// AddCheck registers a dependency probe under name.
func (h *HealthState) AddCheck(name string, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

// Evaluate runs every check and returns the failures by name.
func (h *HealthState) Evaluate(ctx context.Context) (bool, map[string]string) {
	h.mu.RLock()
	ready := h.ready
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	failures := map[string]string{}
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	return ready && len(failures) == 0, failures
}
