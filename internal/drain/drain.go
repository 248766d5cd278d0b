// Package drain converts recorded call results into domain objects.
//
// Each cycle claims a bounded batch of succeeded, unpersisted call records.
// The claim and its bulk attempt increment commit before any handler runs,
// so a crash mid-handler still counts the attempt. The claim also leases each
// record to this worker until Lease elapses; other workers skip leased rows,
// and an expired lease makes a crashed worker's records claimable again.
// Handlers then run outside the claim transaction, one record at a time:
//
//   - no handler for (namespace, schema): the record is marked skipped
//   - handler succeeds: the record is marked persisted and response.ready fires
//   - handler fails: the error is stored and the record is retried next
//     cycle until its attempts reach MaxAttempts
//
// Exhausted records stay in place for manual triage. A store write that
// fails for one record is logged and counted as failed; the cycle moves on to
// the next record.
package drain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/notify"
	"github.com/jackfruitco/simworks-sub000/internal/outbox"
	"github.com/jackfruitco/simworks-sub000/internal/persist"
	"github.com/jackfruitco/simworks-sub000/internal/platform/metrics"
)

// Default configuration values.
const (
	DefaultBatchSize   = 50
	DefaultMaxAttempts = 5
	DefaultInterval    = 5 * time.Second
	DefaultLease       = 2 * time.Minute
)

// Config bounds one worker.
type Config struct {
	BatchSize   int
	MaxAttempts int
	Interval    time.Duration
	// Lease is how long a claimed record stays reserved for this worker.
	// It should exceed the slowest handler.
	Lease time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	return c
}

// Resolver finds the handler for a record. *persist.Registry implements it.
type Resolver interface {
	Resolve(namespace string, schemaID identity.Identity) persist.Handler
}

// Report summarizes one cycle.
type Report struct {
	Claimed   int
	Persisted int
	Skipped   int
	Failed    int
}

// Add accumulates another report.
func (r *Report) Add(o Report) {
	r.Claimed += o.Claimed
	r.Persisted += o.Persisted
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Worker runs drain cycles.
type Worker struct {
	store    outbox.Claimer
	handlers Resolver
	cfg      Config
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

func WithNotifier(n notify.Notifier) Option { return func(w *Worker) { w.notifier = n } }
func WithLogger(l *slog.Logger) Option      { return func(w *Worker) { w.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(w *Worker) { w.metrics = m } }
func WithTracer(t trace.Tracer) Option      { return func(w *Worker) { w.tracer = t } }
func WithClock(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

// New creates a worker. handlers should be frozen.
func New(store outbox.Claimer, handlers Resolver, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		handlers: handlers,
		cfg:      cfg.withDefaults(),
		notifier: notify.Nop,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/jackfruitco/simworks-sub000/internal/drain"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Config returns the effective configuration.
func (w *Worker) Config() Config { return w.cfg }

// RunOnce runs one cycle. Handler failures are counted in the report and
// stored on the record. A failed claim returns immediately; failed mark
// writes are counted as Failed and joined into the returned error once the
// rest of the batch has been processed.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	start := w.now()
	ctx, span := w.tracer.Start(ctx, "drain.cycle")
	defer span.End()
	defer func() { w.metrics.ObserveDrainCycle(w.now().Sub(start)) }()

	var rep Report
	claimed, err := w.store.ClaimUnpersisted(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts, w.cfg.Lease)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim")
		return rep, fmt.Errorf("claim batch: %w", err)
	}
	rep.Claimed = len(claimed)
	w.metrics.AddDrain("claimed", rep.Claimed)
	span.SetAttributes(attribute.Int("claimed", rep.Claimed))

	var errs []error
	for _, rec := range claimed {
		if err := ctx.Err(); err != nil {
			return rep, errors.Join(append(errs, err)...)
		}
		outcome, err := w.process(ctx, rec)
		if err != nil {
			span.RecordError(err)
			w.logger.ErrorContext(ctx, "drain store write failed",
				"correlation_id", rec.CorrelationID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", rec.CorrelationID, err))
			rep.Failed++
			continue
		}
		switch outcome {
		case outbox.OutcomePersisted:
			rep.Persisted++
		case outbox.OutcomeSkipped:
			rep.Skipped++
		case outbox.OutcomeFailed:
			rep.Failed++
		}
	}

	w.metrics.AddDrain("persisted", rep.Persisted)
	w.metrics.AddDrain("skipped", rep.Skipped)
	w.metrics.AddDrain("failed", rep.Failed)
	if rep.Claimed > 0 {
		w.logger.InfoContext(ctx, "drain cycle",
			"claimed", rep.Claimed,
			"persisted", rep.Persisted,
			"skipped", rep.Skipped,
			"failed", rep.Failed,
		)
	}
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "store write")
	}
	return rep, errors.Join(errs...)
}

// process handles one claimed record. A non-nil error means the store could
// not record the outcome.
func (w *Worker) process(ctx context.Context, rec outbox.CallRecord) (outbox.PersistOutcome, error) {
	h := w.handlers.Resolve(rec.Namespace, rec.Schema)
	if h == nil {
		w.logger.DebugContext(ctx, "no persistence handler",
			"correlation_id", rec.CorrelationID,
			"namespace", rec.Namespace,
			"schema", rec.Schema.String(),
		)
		reason := fmt.Sprintf("no handler for %s/%s", rec.Namespace, rec.Schema)
		if err := w.store.MarkSkipped(ctx, rec.CorrelationID, reason); err != nil {
			return "", fmt.Errorf("mark skipped: %w", err)
		}
		return outbox.OutcomeSkipped, nil
	}

	ref, err := h.Persist(ctx, rec)
	if err != nil {
		w.logger.WarnContext(ctx, "persistence handler failed",
			"correlation_id", rec.CorrelationID,
			"handler", h.Identity().String(),
			"attempt", rec.DomainPersistAttempts,
			"max_attempts", w.cfg.MaxAttempts,
			"error", err,
		)
		if rec.DomainPersistAttempts >= w.cfg.MaxAttempts {
			w.logger.ErrorContext(ctx, "call record exhausted",
				"correlation_id", rec.CorrelationID,
				"handler", h.Identity().String(),
			)
		}
		if err := w.store.RecordPersistFailure(ctx, rec.CorrelationID, err.Error()); err != nil {
			return "", fmt.Errorf("record persist failure: %w", err)
		}
		return outbox.OutcomeFailed, nil
	}

	if err := w.store.MarkPersisted(ctx, rec.CorrelationID); err != nil {
		return "", fmt.Errorf("mark persisted: %w", err)
	}
	w.logger.DebugContext(ctx, "record persisted",
		"correlation_id", rec.CorrelationID,
		"handler", h.Identity().String(),
		"domain_ref", ref.String(),
	)

	ev := notify.Event{
		Kind:          notify.KindResponseReady,
		Service:       rec.Service,
		Namespace:     rec.Namespace,
		CorrelationID: rec.CorrelationID,
		OwnerRef:      rec.OwnerRef,
		DomainRef:     ref.String(),
		Payload:       json.RawMessage(rec.Result),
		OccurredAt:    w.now(),
	}
	if err := w.notifier.Notify(ctx, ev); err != nil {
		w.metrics.IncrementNotifyError("drain")
		w.logger.WarnContext(ctx, "notification failed",
			"event", string(ev.Kind),
			"correlation_id", rec.CorrelationID,
			"error", err,
		)
	}
	return outbox.OutcomePersisted, nil
}

// Run runs a cycle immediately and then once per interval until ctx is
// cancelled. Cycle errors are logged and the loop continues.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "drain worker starting",
		"batch_size", w.cfg.BatchSize,
		"max_attempts", w.cfg.MaxAttempts,
		"interval", w.cfg.Interval,
		"lease", w.cfg.Lease,
	)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		// Drain back-to-back while full batches keep coming.
		for {
			rep, err := w.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				w.logger.ErrorContext(ctx, "drain cycle failed", "error", err)
				break
			}
			if rep.Claimed < w.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "drain worker stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
