package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// SpanName is the name of every login attempt span.
const SpanName = "auth.login"

// AttemptMeta describes one login attempt for telemetry purposes.
//
// Chain and AttemptID are known before the attempt starts. Strategy,
// Reason and Backend are filled in by the attempt itself.
type AttemptMeta struct {
	Chain     string // Chain name (required)
	AttemptID string // Unique attempt id
	Strategy  string // Strategy that authenticated or failed (optional)
	Reason    string // Failure reason (optional)
	Backend   bool   // Failure came from infrastructure, not credentials
}

// Tracer wraps OpenTelemetry tracing with login-attempt span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a login attempt.
	StartSpan(ctx context.Context, meta AttemptMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording the outcome carried in meta and any error.
	EndSpan(span trace.Span, meta AttemptMeta, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with attempt metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta AttemptMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("auth.chain", meta.Chain),
		attribute.Bool("auth.error", false),
	}
	if meta.AttemptID != "" {
		attrs = append(attrs, attribute.String("auth.attempt_id", meta.AttemptID))
	}

	return t.tracer.Start(ctx, SpanName,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, meta AttemptMeta, err error) {
	if meta.Strategy != "" {
		span.SetAttributes(attribute.String("auth.strategy", meta.Strategy))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("auth.error", true))
		if meta.Reason != "" {
			span.SetAttributes(attribute.String("auth.reason", meta.Reason))
		}
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StrategyEvent adds a per-strategy event to the span in ctx.
func StrategyEvent(ctx context.Context, strategy, phase, outcome string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("auth.strategy."+phase, trace.WithAttributes(
		attribute.String("auth.strategy", strategy),
		attribute.String("auth.outcome", outcome),
	))
}

type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a tracer that records nothing.
func NewNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta AttemptMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, SpanName)
}

func (t *noopTracer) EndSpan(span trace.Span, meta AttemptMeta, err error) {
	span.End()
}
