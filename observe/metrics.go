package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric instrument names.
const (
	MetricLoginTotal    = "auth.login.total"
	MetricLoginFailures = "auth.login.failures"
	MetricLoginDuration = "auth.login.duration_ms"
)

// Metrics records login attempt metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordAttempt records a login attempt with its duration and outcome.
	RecordAttempt(ctx context.Context, meta AttemptMeta, duration time.Duration, err error)
}

type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	failureCount metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		MetricLoginTotal,
		metric.WithDescription("Total number of login attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	failureCount, err := meter.Int64Counter(
		MetricLoginFailures,
		metric.WithDescription("Total number of failed login attempts"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		MetricLoginDuration,
		metric.WithDescription("Login attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		failureCount: failureCount,
		durationHist: durationHist,
	}, nil
}

// RecordAttempt records metrics for a login attempt.
func (m *metricsImpl) RecordAttempt(ctx context.Context, meta AttemptMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("auth.chain", meta.Chain),
	}
	if meta.Strategy != "" {
		attrs = append(attrs, attribute.String("auth.strategy", meta.Strategy))
	}
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)

	if err != nil {
		reason := meta.Reason
		if reason == "" {
			reason = "unknown"
		}
		m.failureCount.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("reason", reason))...))
	}

	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

type noopMetrics struct{}

// NewNoopMetrics creates a Metrics that records nothing.
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

func (m *noopMetrics) RecordAttempt(ctx context.Context, meta AttemptMeta, duration time.Duration, err error) {
}
