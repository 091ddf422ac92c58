package observe

import (
	"context"
	"time"
)

// LoginFunc is the signature of a login attempt. The function fills in
// meta.Strategy, meta.Reason and meta.Backend as it learns them.
type LoginFunc func(ctx context.Context, meta *AttemptMeta) error

// Middleware wraps login attempts with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe LoginFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
// Nil components are replaced with no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// NewNoopMiddleware creates a Middleware that records nothing.
func NewNoopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// Logger returns the middleware logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// Wrap wraps a LoginFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn LoginFunc) LoginFunc {
	return func(ctx context.Context, meta *AttemptMeta) error {
		if meta == nil {
			meta = &AttemptMeta{}
		}
		ctx, span := m.tracer.StartSpan(ctx, *meta)
		logger := m.logger.WithAttempt(*meta)
		logger.Debug(ctx, "login attempt started")

		start := time.Now()
		err := fn(ctx, meta)
		duration := time.Since(start)

		m.tracer.EndSpan(span, *meta, err)
		m.metrics.RecordAttempt(ctx, *meta, duration, err)

		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		if meta.Strategy != "" {
			fields = append(fields, Field{Key: "strategy", Value: meta.Strategy})
		}

		switch {
		case err == nil:
			logger.Info(ctx, "login attempt succeeded", fields...)
		case meta.Backend:
			fields = append(fields,
				Field{Key: "reason", Value: meta.Reason},
				Field{Key: "error", Value: err.Error()})
			logger.Error(ctx, "login attempt failed", fields...)
		default:
			fields = append(fields,
				Field{Key: "reason", Value: meta.Reason},
				Field{Key: "error", Value: err.Error()})
			logger.Warn(ctx, "login attempt failed", fields...)
		}

		return err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	return NewMiddleware(obs.LoginTracer(), obs.LoginMetrics(), obs.Logger()), nil
}
