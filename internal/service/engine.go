package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackfruitco/simworks-sub000/internal/codec"
	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/notify"
	"github.com/jackfruitco/simworks-sub000/internal/outbox"
	"github.com/jackfruitco/simworks-sub000/internal/payload"
	"github.com/jackfruitco/simworks-sub000/internal/platform/metrics"
	"github.com/jackfruitco/simworks-sub000/internal/provider"
)

// DefaultRecordTimeout bounds the terminal write when the caller's context
// is already cancelled.
const DefaultRecordTimeout = 5 * time.Second

// RetryPolicy bounds provider retries. MaxAttempts counts the first send.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// RetryMalformed re-invokes the whole call when the response was
	// truncated or unparseable. Schema mismatches are never retried.
	RetryMalformed bool
}

// DefaultRetry is used when no policy is configured.
var DefaultRetry = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
	RetryMalformed:  true,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Outcome is the result of Execute.
type Outcome struct {
	CorrelationID string
	Service       identity.Identity
	Status        outbox.Status

	// Result is the decoded structured output; nil when the service has no
	// schema or the call failed.
	Result *codec.Result

	// Text is the raw output text of the last response.
	Text       string
	ResponseID string
	Attempts   int
	Error      string

	State   State
	History []State
}

// Engine runs service calls.
type Engine struct {
	reg     Registries
	store   outbox.CallWriter
	clients map[string]provider.Client

	notifier      notify.Notifier
	ids           IDGenerator
	retry         RetryPolicy
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	teardown      []TeardownFunc
	recordTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithProvider registers the client for a provider name.
func WithProvider(name string, c provider.Client) EngineOption {
	return func(e *Engine) { e.clients[name] = c }
}

// WithNotifier sets the event sink. Default: notify.Nop.
func WithNotifier(n notify.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithIDGenerator sets the correlation id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithRetry sets the provider retry policy.
func WithRetry(p RetryPolicy) EngineOption {
	return func(e *Engine) { e.retry = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithTeardown adds engine-level hooks that run after every definition's own
// hooks.
func WithTeardown(fns ...TeardownFunc) EngineOption {
	return func(e *Engine) { e.teardown = append(e.teardown, fns...) }
}

// WithRecordTimeout bounds the terminal write. Default: DefaultRecordTimeout.
func WithRecordTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.recordTimeout = d }
}

// New creates an Engine over frozen registries and an outbox writer.
func New(reg Registries, store outbox.CallWriter, opts ...EngineOption) *Engine {
	e := &Engine{
		reg:           reg,
		store:         store,
		clients:       make(map[string]provider.Client),
		notifier:      notify.Nop,
		ids:           UUIDv7Generator{},
		retry:         DefaultRetry,
		now:           time.Now,
		logger:        slog.Default(),
		tracer:        otel.Tracer("github.com/jackfruitco/simworks-sub000/internal/service"),
		recordTimeout: DefaultRecordTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// call is the per-Execute working set.
type call struct {
	inv   Invocation
	plan  *Plan
	m     *machine
	out   *Outcome
	start time.Time
	span  trace.Span

	// input is the canonical request snapshot, set once prepared.
	input json.RawMessage
}

func (c *call) outcome() *Outcome {
	c.out.State = c.m.state
	c.out.History = append([]State(nil), c.m.history...)
	return c.out
}

// Execute runs one call to completion.
//
// A *ConfigError is returned synchronously when preparation fails; no call
// record exists in that case. Every failure after the record was created is
// written to it as status failed and returned as a *CallError. Once the
// record is written as succeeded, Execute returns a nil error: teardown and
// notification failures are only logged.
func (e *Engine) Execute(ctx context.Context, inv Invocation) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "service.execute",
		trace.WithAttributes(attribute.String("service", inv.Service.String())))
	defer span.End()

	c := &call{
		inv:   inv,
		m:     newMachine(),
		out:   &Outcome{Service: inv.Service},
		start: e.now(),
		span:  span,
	}

	req, client, err := e.prepare(c)
	if err != nil {
		c.m.fail()
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare failed")
		e.logger.ErrorContext(ctx, "call not prepared",
			"service", inv.Service.String(),
			"error", err,
		)
		return c.outcome(), err
	}

	input, digest, err := snapshot(req)
	if err != nil {
		c.m.fail()
		return c.outcome(), fmt.Errorf("prepare %s: %w", inv.Service, err)
	}

	def := c.plan.Definition
	c.input = input
	c.out.CorrelationID = e.ids.Generate()
	span.SetAttributes(attribute.String("correlation_id", c.out.CorrelationID))

	rec := &outbox.CallRecord{
		CorrelationID: c.out.CorrelationID,
		Service:       def.Identity,
		Namespace:     def.Identity.Namespace,
		Codec:         c.plan.Codec.Identity(),
		OwnerRef:      inv.Owner,
		Input:         input,
		InputDigest:   digest,
		CreatedAt:     c.start,
	}
	if c.plan.Schema != nil {
		rec.Schema = c.plan.Schema.Identity()
	}
	if err := e.store.CreateCall(ctx, rec); err != nil {
		c.m.fail()
		span.RecordError(err)
		span.SetStatus(codes.Error, "create call record")
		return c.outcome(), fmt.Errorf("prepare %s: %w", inv.Service, err)
	}
	c.m.advance(StatePrepared)
	e.emit(ctx, c, notify.KindRequestSent, input, "")

	e.logger.DebugContext(ctx, "call prepared",
		"service", def.Identity.String(),
		"correlation_id", c.out.CorrelationID,
		"prompt", c.plan.PromptSource,
		"codec", c.plan.Codec.Identity().String(),
		"schema", rec.Schema.String(),
	)

	if err := e.store.MarkRunning(ctx, c.out.CorrelationID); err != nil {
		return e.fail(ctx, c, err)
	}

	result, sent, err := e.send(ctx, c, client, req)
	if sent {
		c.m.advance(StateSent)
	}
	if err != nil {
		return e.fail(ctx, c, err)
	}
	c.m.advance(StateDecoded)
	c.out.Result = result

	fin := outbox.Outcome{
		Status:             outbox.StatusSucceeded,
		ProviderResponseID: c.out.ResponseID,
		ProviderAttempts:   c.out.Attempts,
		FinishedAt:         e.now(),
	}
	var snapshotResult json.RawMessage
	if result != nil {
		fin.Result = result.Canonical
		fin.ResultDigest = payload.DigestBytes(payload.DomainResult, result.Canonical)
		snapshotResult = result.Canonical
	}
	e.emit(ctx, c, notify.KindResponseReceived, snapshotResult, "")

	if err := e.record(ctx, c.out.CorrelationID, fin); err != nil {
		return e.fail(ctx, c, err)
	}
	c.m.advance(StateRecorded)
	c.out.Status = outbox.StatusSucceeded

	e.runTeardown(ctx, c)
	c.m.advance(StateDone)

	e.metrics.ObserveCall(def.Identity.String(), string(outbox.StatusSucceeded), e.now().Sub(c.start))
	span.SetStatus(codes.Ok, "")
	e.logger.InfoContext(ctx, "call recorded",
		"service", def.Identity.String(),
		"correlation_id", c.out.CorrelationID,
		"attempt", c.out.Attempts,
	)
	return c.outcome(), nil
}

// prepare resolves the call and builds the encoded request.
func (e *Engine) prepare(c *call) (*provider.Request, provider.Client, error) {
	plan, err := e.reg.Resolve(c.inv)
	if err != nil {
		return nil, nil, err
	}
	c.plan = plan
	def := plan.Definition

	client, ok := e.clients[def.Provider]
	if !ok {
		return nil, nil, &ConfigError{Service: def.Identity, Dependency: "provider", Message: fmt.Sprintf("no client for provider %q", def.Provider)}
	}

	req := &provider.Request{
		Model:        def.Model,
		Instructions: plan.Instructions,
		Input:        append([]provider.Message(nil), c.inv.Messages...),
		Metadata:     c.inv.Metadata,
	}
	if err := plan.Codec.Encode(req, plan.Schema); err != nil {
		return nil, nil, &ConfigError{Service: def.Identity, Dependency: "codec", Message: err.Error()}
	}
	return req, client, nil
}

// send dispatches req and decodes the response, retrying per policy. sent
// reports whether the last attempt got a response from the provider.
func (e *Engine) send(ctx context.Context, c *call, client provider.Client, req *provider.Request) (result *codec.Result, sent bool, err error) {
	svc := c.plan.Definition.Identity.String()

	op := func() error {
		c.out.Attempts++
		e.metrics.IncrementProviderAttempt(svc)

		resp, err := e.dispatch(ctx, client, req, c.inv)
		if err != nil {
			sent = false
			if ctx.Err() == nil && provider.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		sent = true
		c.out.ResponseID = resp.ID
		c.out.Text = resp.OutputText

		decoded, err := c.plan.Codec.Decode(resp, c.plan.Schema)
		if err != nil {
			if e.retry.RetryMalformed && codec.IsRetriableDecode(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = decoded
		return nil
	}

	notifyRetry := func(err error, wait time.Duration) {
		e.logger.WarnContext(ctx, "retrying provider call",
			"service", svc,
			"correlation_id", c.out.CorrelationID,
			"attempt", c.out.Attempts,
			"wait", wait,
			"error", err,
		)
	}

	err = backoff.RetryNotify(op, e.retry.backOff(ctx), notifyRetry)
	return result, sent, err
}

// dispatch sends once, streaming when asked and supported.
func (e *Engine) dispatch(ctx context.Context, client provider.Client, req *provider.Request, inv Invocation) (*provider.Response, error) {
	streamer, ok := client.(provider.Streamer)
	if !inv.Stream || !ok {
		return client.Send(ctx, req)
	}
	seq := streamer.Stream(ctx, req)
	if inv.OnDelta != nil {
		inner := seq
		seq = func(yield func(provider.Chunk, error) bool) {
			for chunk, err := range inner {
				if err == nil && chunk.Delta != "" {
					inv.OnDelta(chunk.Delta)
				}
				if !yield(chunk, err) {
					return
				}
			}
		}
	}
	return provider.Collect(seq)
}

// fail records the call as failed and returns a *CallError.
func (e *Engine) fail(ctx context.Context, c *call, cause error) (*Outcome, error) {
	state := c.m.state
	c.m.fail()
	c.out.Status = outbox.StatusFailed
	c.out.Error = cause.Error()
	c.out.Result = nil

	err := e.record(ctx, c.out.CorrelationID, outbox.Outcome{
		Status:             outbox.StatusFailed,
		Error:              cause.Error(),
		ProviderResponseID: c.out.ResponseID,
		ProviderAttempts:   c.out.Attempts,
		FinishedAt:         e.now(),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to record call failure",
			"service", c.inv.Service.String(),
			"correlation_id", c.out.CorrelationID,
			"error", err,
		)
	}
	e.emit(ctx, c, notify.KindResponseFailed, c.input, cause.Error())

	e.metrics.ObserveCall(c.inv.Service.String(), string(outbox.StatusFailed), e.now().Sub(c.start))
	c.span.RecordError(cause)
	c.span.SetStatus(codes.Error, state.String())
	e.logger.WarnContext(ctx, "call failed",
		"service", c.inv.Service.String(),
		"correlation_id", c.out.CorrelationID,
		"state", state.String(),
		"attempt", c.out.Attempts,
		"error", cause,
	)
	return c.outcome(), &CallError{CorrelationID: c.out.CorrelationID, State: state, Err: cause}
}

// record performs the terminal write on a context that survives caller
// cancellation, so a cancelled call still ends as a complete failed record.
func (e *Engine) record(ctx context.Context, correlationID string, out outbox.Outcome) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.recordTimeout)
	defer cancel()
	return e.store.FinishCall(rctx, correlationID, out)
}

func (e *Engine) runTeardown(ctx context.Context, c *call) {
	hooks := append(append([]TeardownFunc(nil), c.plan.Definition.Teardown...), e.teardown...)
	for i, fn := range hooks {
		if err := fn(ctx, c.out); err != nil {
			e.logger.WarnContext(ctx, "teardown hook failed",
				"service", c.inv.Service.String(),
				"correlation_id", c.out.CorrelationID,
				"hook", i,
				"error", err,
			)
		}
	}
}

func (e *Engine) emit(ctx context.Context, c *call, kind notify.Kind, snapshot json.RawMessage, errMsg string) {
	ev := notify.Event{
		Kind:          kind,
		Service:       c.inv.Service,
		Namespace:     c.inv.Service.Namespace,
		CorrelationID: c.out.CorrelationID,
		OwnerRef:      c.inv.Owner,
		Payload:       snapshot,
		Error:         errMsg,
		OccurredAt:    e.now(),
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.metrics.IncrementNotifyError("engine")
		e.logger.WarnContext(ctx, "notification failed",
			"event", string(kind),
			"correlation_id", c.out.CorrelationID,
			"error", err,
		)
	}
}

// snapshot renders the request as canonical JSON and its input digest.
func snapshot(req *provider.Request) ([]byte, string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot request: %w", err)
	}
	v, err := payload.Decode(raw)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot request: %w", err)
	}
	canonical, err := payload.MarshalCanonical(v)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot request: %w", err)
	}
	return canonical, payload.DigestBytes(payload.DomainInput, canonical), nil
}
