// v0
// internal/processor/processor.go
package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
	"github.com/ddaddaradda/message-consumer/internal/diaglog"
	"github.com/ddaddaradda/message-consumer/internal/ingest"
	"github.com/ddaddaradda/message-consumer/internal/metrics"
	"github.com/ddaddaradda/message-consumer/internal/sink"
	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

// Config bounds the loop's waits.
type Config struct {
	// PollTimeout bounds one fetch and one commit.
	PollTimeout time.Duration
	// FlushTimeout bounds one emission attempt of an in-flight batch.
	FlushTimeout time.Duration
	// RetryBackoff is the first wait after a sink outage or fetch error; it
	// doubles up to RetryBackoffMax.
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// Deps are the collaborators of a Processor. Diag, Archive and Metrics may
// be nil.
type Deps struct {
	Source     ingest.Source
	Sink       sink.Sink
	Dispatcher *telemetry.Dispatcher
	Diag       *diaglog.Writer
	Archive    *diaglog.Archive
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Processor pulls one delivery at a time, reshapes it and emits the records.
type Processor struct {
	cfg        Config
	src        ingest.Source
	sink       sink.Sink
	dispatcher *telemetry.Dispatcher
	diag       *diaglog.Writer
	archive    *diaglog.Archive
	metrics    *metrics.Metrics
	log        *slog.Logger
	wait       func(ctx context.Context, d time.Duration) error
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Processor, error) {
	if deps.Source == nil {
		return nil, errors.New("processor requires a source")
	}
	if deps.Sink == nil {
		return nil, errors.New("processor requires a sink")
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = telemetry.NewDispatcher(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.RetryBackoffMax < cfg.RetryBackoff {
		cfg.RetryBackoffMax = cfg.RetryBackoff
	}
	return &Processor{
		cfg:        cfg,
		src:        deps.Source,
		sink:       deps.Sink,
		dispatcher: deps.Dispatcher,
		diag:       deps.Diag,
		archive:    deps.Archive,
		metrics:    deps.Metrics,
		log:        deps.Logger,
		wait:       sleep,
	}, nil
}

// Run consumes until ctx ends or the source closes. Shutdown is observed only
// between deliveries; a batch being emitted finishes (or exhausts its flush
// timeout) first. Per-payload failures never end the loop.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("consumer_start", slog.String("sink", p.sink.Name()))
	backoff := p.cfg.RetryBackoff
	for {
		if ctx.Err() != nil {
			p.log.Info("consumer_stop", slog.String("reason", "shutdown"))
			return nil
		}
		fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
		d, err := p.src.Fetch(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, ingest.ErrClosed):
				p.log.Info("consumer_stop", slog.String("reason", "source_closed"))
				return nil
			case ctx.Err() != nil:
				continue
			case errors.Is(err, context.DeadlineExceeded):
				continue
			}
			p.log.Error("fetch_err", slog.Any("err", err), slog.Duration("backoff", backoff))
			if p.wait(ctx, backoff) != nil {
				continue
			}
			backoff = p.nextBackoff(backoff)
			continue
		}
		backoff = p.cfg.RetryBackoff

		outcome := p.Handle(ctx, d)
		if outcome == metrics.OutcomeUnavailable {
			p.log.Warn("delivery_left_uncommitted",
				slog.String("topic", d.Topic),
				slog.Int("partition", d.Partition),
				slog.Int64("offset", d.Offset),
			)
			continue
		}
		commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PollTimeout)
		if err := d.Commit(commitCtx); err != nil {
			p.log.Error("commit_err", slog.Any("err", err), slog.String("topic", d.Topic), slog.Int64("offset", d.Offset))
		}
		commitCancel()
	}
}

// Handle processes one delivery and returns its outcome. Every outcome but
// OutcomeUnavailable means the delivery may be committed.
func (p *Processor) Handle(ctx context.Context, d ingest.Delivery) string {
	log := p.log.With(slog.String("topic", d.Topic), slog.Int64("offset", d.Offset))

	payload, err := telemetry.DecodePayload(d.Value)
	if err != nil {
		return p.malformed(log, d, telemetry.VariantUnknown, err)
	}
	if err := p.archive.Store(payload, d.Value); err != nil {
		log.Warn("archive_failed", slog.Any("err", err))
	}
	batch, err := p.dispatcher.Dispatch(payload)
	if hint := telemetry.HintFromTopic(d.Topic); hint != telemetry.VariantUnknown &&
		batch.Variant != telemetry.VariantUnknown && hint != batch.Variant {
		log.Warn("variant_topic_mismatch",
			slog.String("topic_variant", hint.String()),
			slog.String("payload_variant", batch.Variant.String()),
		)
	}
	if err != nil {
		if errors.Is(err, telemetry.ErrUnrecognizedVariant) {
			log.Warn("payload_unrecognized", slog.Any("err", err))
			p.metrics.Payload(batch.Variant.String(), metrics.OutcomeUnrecognized)
			return metrics.OutcomeUnrecognized
		}
		return p.malformed(log, d, batch.Variant, err)
	}

	if batch.Len() == 0 {
		log.Info("payload_empty", slog.String("variant", batch.Variant.String()))
		p.metrics.Payload(batch.Variant.String(), metrics.OutcomeEmpty)
		return metrics.OutcomeEmpty
	}

	outcome := p.emit(ctx, log, d, batch)
	p.metrics.Payload(batch.Variant.String(), outcome)
	if outcome == metrics.OutcomeEmitted {
		p.metrics.RecordsEmitted(batch.Variant.String(), batch.Len())
		log.Info("payload_emitted",
			slog.String("variant", batch.Variant.String()),
			slog.String("date", batch.Date),
			slog.String("key", batch.Key()),
			slog.Int("records", batch.Len()),
		)
	}
	return outcome
}

// emit writes batch until the sink accepts it, rejects it permanently or
// shutdown is requested while waiting between attempts.
func (p *Processor) emit(ctx context.Context, log *slog.Logger, d ingest.Delivery, batch telemetry.Batch) string {
	backoff := p.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.FlushTimeout)
		err := p.sink.Write(writeCtx, batch)
		cancel()
		if err == nil {
			return metrics.OutcomeEmitted
		}
		if circuitbreaker.IsPermanent(err) {
			log.Error("payload_rejected", slog.String("variant", batch.Variant.String()), slog.Any("err", err))
			p.record(log, diaglog.Entry{
				Variant: batch.Variant,
				Reason:  metrics.OutcomeRejected,
				Err:     err,
				Topic:   d.Topic,
				Payload: d.Value,
			})
			return metrics.OutcomeRejected
		}
		log.Warn("sink_unavailable",
			slog.String("variant", batch.Variant.String()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("err", err),
		)
		if p.wait(ctx, backoff) != nil {
			return metrics.OutcomeUnavailable
		}
		backoff = p.nextBackoff(backoff)
	}
}

func (p *Processor) malformed(log *slog.Logger, d ingest.Delivery, v telemetry.Variant, err error) string {
	entry := diaglog.Entry{Variant: v, Err: err, Topic: d.Topic, Payload: d.Value}
	var me *telemetry.MalformedError
	if errors.As(err, &me) {
		entry.Reason = string(me.Reason)
		if len(me.Payload) > 0 {
			entry.Payload = me.Payload
		}
	}
	log.Warn("payload_malformed",
		slog.String("variant", v.String()),
		slog.String("reason", entry.Reason),
		slog.Any("err", err),
	)
	p.record(log, entry)
	p.metrics.Payload(v.String(), metrics.OutcomeMalformed)
	return metrics.OutcomeMalformed
}

func (p *Processor) record(log *slog.Logger, e diaglog.Entry) {
	id, err := p.diag.Malformed(e)
	if err != nil {
		log.Error("diag_write_failed", slog.Any("err", err))
		return
	}
	if id != "" {
		log.Debug("diag_recorded", slog.String("id", id))
	}
}

func (p *Processor) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > p.cfg.RetryBackoffMax {
		return p.cfg.RetryBackoffMax
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
