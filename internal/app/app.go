// v0
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
	"github.com/ddaddaradda/message-consumer/internal/config"
	"github.com/ddaddaradda/message-consumer/internal/diaglog"
	"github.com/ddaddaradda/message-consumer/internal/httpapi"
	"github.com/ddaddaradda/message-consumer/internal/ingest"
	"github.com/ddaddaradda/message-consumer/internal/logging"
	"github.com/ddaddaradda/message-consumer/internal/metrics"
	"github.com/ddaddaradda/message-consumer/internal/processor"
	"github.com/ddaddaradda/message-consumer/internal/sink"
	"github.com/ddaddaradda/message-consumer/internal/store"
	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

// Application wires configuration, logging, the inbound source, the sinks and
// the health server of the telemetry processor.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	logFile   *os.File
	server    *http.Server
	health    *httpapi.HealthState
	source    ingest.Source
	sink      sink.Sink
	processor *processor.Processor
}

// New builds a fully wired instance. Partially opened resources are released
// when a later step fails.
func New(cfg config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	logger, lf, err := logging.Open(cfg.LogFilePath, logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		return nil, err
	}
	a := &Application{cfg: cfg, logger: logger, logFile: lf, health: httpapi.NewHealthState()}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) wire() error {
	cfg := a.cfg
	m := metrics.New()

	policy := func(name, scope string, probe func(ctx context.Context) error) (*circuitbreaker.Policy, error) {
		p, err := circuitbreaker.NewPolicyFromEnv(name, scope, a.logger.With(slog.String("component", "breaker")), probe)
		if err != nil {
			return nil, fmt.Errorf("breaker %s: %w", name, err)
		}
		p.OnStateChange(m.BreakerState)
		return p, nil
	}

	if cfg.ValidateTopics {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := ingest.ValidateTopics(ctx, a.logger, cfg.KafkaBrokers, cfg.Topics())
		cancel()
		if err != nil {
			return fmt.Errorf("validate topics: %w", err)
		}
	}

	src, err := a.openSource(policy)
	if err != nil {
		return err
	}
	a.source = src

	sinks := make([]sink.Sink, 0, len(cfg.Sinks))
	for _, name := range cfg.Sinks {
		s, err := a.openSink(name, policy)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return err
		}
		sinks = append(sinks, s)
	}
	a.sink = sink.NewMulti(a.logger.With(slog.String("component", "sink")), m.SinkWrite, sinks...)

	proc, err := processor.New(processor.Config{
		PollTimeout:     cfg.PollTimeout,
		FlushTimeout:    cfg.FlushTimeout,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
	}, processor.Deps{
		Source:     a.source,
		Sink:       a.sink,
		Dispatcher: telemetry.NewDispatcher(cfg.Location()),
		Diag:       diaglog.NewWriter(cfg.DiagDir, cfg.Location()),
		Archive:    diaglog.NewArchive(cfg.ArchiveDir, cfg.Location()),
		Metrics:    m,
		Logger:     a.logger.With(slog.String("component", "processor")),
	})
	if err != nil {
		return fmt.Errorf("processor init: %w", err)
	}
	a.processor = proc

	router := httpapi.NewRouter(a.logger, a.health, m)
	a.server = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           httpapi.WrapWithLogging(a.logger, router),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}
	a.logger.Info("processor_configured",
		slog.String("inbound", cfg.Inbound),
		slog.String("sinks", a.sink.Name()),
		slog.String("timezone", cfg.Timezone),
		slog.Int("chunk_size", cfg.BatchChunkSize),
		slog.String("diag_dir", cfg.DiagDir),
	)
	return nil
}

type policyFactory func(name, scope string, probe func(ctx context.Context) error) (*circuitbreaker.Policy, error)

func (a *Application) openSource(policy policyFactory) (ingest.Source, error) {
	cfg := a.cfg
	log := a.logger.With(slog.String("component", "source"))
	switch cfg.Inbound {
	case config.InboundMQTT:
		src, err := ingest.NewMQTTSource(ingest.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			QoS:      cfg.MQTTQoS,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("mqtt source init: %w", err)
		}
		return src, nil
	default:
		p, err := policy("kafka-reader", "kafka", nil)
		if err != nil {
			return nil, err
		}
		src, err := ingest.NewKafkaSource(ingest.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ConsumerGroupID,
			Topics:  cfg.SourceTopics,
		}, p, log)
		if err != nil {
			return nil, fmt.Errorf("kafka source init: %w", err)
		}
		return src, nil
	}
}

func (a *Application) openSink(name string, policy policyFactory) (sink.Sink, error) {
	cfg := a.cfg
	log := a.logger.With(slog.String("component", "sink"), slog.String("sink", name))
	switch name {
	case config.SinkKafka:
		p, err := policy("kafka-writer", "kafka", nil)
		if err != nil {
			return nil, err
		}
		k, err := sink.NewKafka(sink.KafkaConfig{
			Brokers:   cfg.KafkaBrokers,
			TopicFor:  cfg.TopicFor,
			ChunkSize: cfg.BatchChunkSize,
		}, p, log)
		if err != nil {
			return nil, fmt.Errorf("kafka sink init: %w", err)
		}
		return k, nil
	case config.SinkMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m, err := store.OpenMongo(ctx, store.MongoConfig{URI: cfg.DocDBURI, TLSCAPath: cfg.TLSCAPath}, log)
		if err != nil {
			return nil, fmt.Errorf("mongo sink init: %w", err)
		}
		p, err := policy("mongo", "mongo", m.Ping)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		a.health.AddCheck("mongo", m.Ping)
		return sink.NewStore(name, m, p, cfg.BatchChunkSize, log), nil
	case config.SinkSQLite:
		s, err := store.OpenSQLite(cfg.SQLitePath, log)
		if err != nil {
			return nil, fmt.Errorf("sqlite sink init: %w", err)
		}
		p, err := policy("sqlite", "sqlite", s.Ping)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		a.health.AddCheck("sqlite", s.Ping)
		return sink.NewStore(name, s, p, cfg.BatchChunkSize, log), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

// Logger exposes the configured logger to main.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Run serves health and metrics and consumes until ctx is cancelled, the
// source closes or the HTTP server fails.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpCh := make(chan error, 1)
	go func() {
		a.logger.Info("http_server_listen", slog.String("address", a.cfg.ListenAddress))
		httpCh <- a.server.ListenAndServe()
	}()

	procCh := make(chan error, 1)
	go func() {
		a.health.SetReady(true)
		procCh <- a.processor.Run(ctx)
	}()

	var httpErr, procErr error
	select {
	case err := <-httpCh:
		httpCh = nil
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http_server_error", slog.Any("err", err))
			httpErr = err
		}
	case err := <-procCh:
		procCh = nil
		if err != nil {
			a.logger.Error("processor_error", slog.Any("err", err))
			procErr = err
		} else {
			a.logger.Info("processor_completed")
		}
	case <-ctx.Done():
		a.logger.Info("shutdown_signal")
	}
	cancel()
	a.health.SetReady(false)

	if procCh != nil {
		if err := <-procCh; err != nil && procErr == nil {
			procErr = err
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server_shutdown_failed", slog.Any("err", err))
		if httpErr == nil {
			httpErr = fmt.Errorf("shutdown: %w", err)
		}
	}
	shutdownCancel()
	if httpCh != nil {
		if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) && httpErr == nil {
			httpErr = err
		}
	}

	if procErr != nil {
		return procErr
	}
	if httpErr != nil {
		return httpErr
	}
	a.logger.Info("shutdown_complete")
	return nil
}

// Close releases the source, the sinks and the log file.
func (a *Application) Close() error {
	var errs []error
	if a.source != nil {
		errs = append(errs, a.source.Close())
		a.source = nil
	}
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
		a.sink = nil
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
		a.logFile = nil
	}
	return errors.Join(errs...)
}
