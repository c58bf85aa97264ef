// v1
// internal/httpapi/router.go
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Metrics is the subset of internal/metrics the router needs.
type Metrics interface {
	Handler() http.Handler
	WrapHandler(route string, next http.Handler) http.Handler
}

// NewRouter wires the health and metrics routes.
func NewRouter(logger *slog.Logger, health *HealthState, m Metrics) *mux.Router {
	r := mux.NewRouter()
	live := healthLiveHandler()
	r.Handle("/health", live).Methods(http.MethodGet)
	r.Handle("/health/live", live).Methods(http.MethodGet)
	r.Handle("/health/ready", healthReadyHandler(logger, health)).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.WrapHandler("/metrics", m.Handler())).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		if _, err := w.Write([]byte("not found")); err != nil {
			logger.Error("write_response_failed", slog.Any("err", err))
		}
	})
	return r
}

func healthLiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func healthReadyHandler(logger *slog.Logger, health *HealthState) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		ready, failures := health.Evaluate(ctx)
		status := http.StatusOK
		body := map[string]any{"status": "OK"}
		if !ready {
			status = http.StatusServiceUnavailable
			body["status"] = "NOT_READY"
		}
		if len(failures) > 0 {
			body["failures"] = failures
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Error("write_response_failed", slog.Any("err", err))
		}
	})
}

// WrapWithLogging adds access logging through slog and panic recovery.
func WrapWithLogging(logger *slog.Logger, next http.Handler) http.Handler {
	logged := handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		logger.Info("http_request",
			slog.String("method", p.Request.Method),
			slog.String("path", p.URL.Path),
			slog.Int("status", p.StatusCode),
			slog.Int("size", p.Size),
			slog.String("duration", time.Since(p.TimeStamp).String()),
		)
	})
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger}),
		handlers.PrintRecoveryStack(false),
	)(logged)
}

type recoveryLogger struct {
	log *slog.Logger
}

func (r recoveryLogger) Println(v ...interface{}) {
	r.log.Error("http_panic", slog.String("err", fmt.Sprint(v...)))
}
