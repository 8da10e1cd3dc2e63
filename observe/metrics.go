package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics receives counters for resilience events.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records one guarded call with duration and error status.
	RecordCall(ctx context.Context, meta OpMeta, duration time.Duration, err error)

	// RecordRetry records a retry about to be attempted.
	RecordRetry(ctx context.Context, resource string, attempt int)

	// RecordBreakerTransition records a circuit breaker state change.
	RecordBreakerTransition(ctx context.Context, resource, from, to string)

	// RecordRateLimitWait records time spent waiting for rate tokens.
	RecordRateLimitWait(ctx context.Context, resource string, wait time.Duration)

	// RecordTierEscalation records items moving to a more conservative tier.
	RecordTierEscalation(ctx context.Context, resource, tier string, items int)

	// RecordPlaceholder records a placeholder substituted for a failed item.
	RecordPlaceholder(ctx context.Context, resource, kind string)
}

type metricsImpl struct {
	callCount       metric.Int64Counter
	errorCount      metric.Int64Counter
	durationHist    metric.Float64Histogram
	retryCount      metric.Int64Counter
	transitionCount metric.Int64Counter
	waitHist        metric.Float64Histogram
	escalationCount metric.Int64Counter
	placeholderCnt  metric.Int64Counter
}

// NewMetrics creates a Metrics instance that records into meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.callCount, err = meter.Int64Counter(
		"callgate.call.total",
		metric.WithDescription("Total number of guarded calls"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.errorCount, err = meter.Int64Counter(
		"callgate.call.errors",
		metric.WithDescription("Total number of failed guarded calls"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.durationHist, err = meter.Float64Histogram(
		"callgate.call.duration_ms",
		metric.WithDescription("Guarded call duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.retryCount, err = meter.Int64Counter(
		"callgate.retry.total",
		metric.WithDescription("Retries consumed"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, err
	}

	if m.transitionCount, err = meter.Int64Counter(
		"callgate.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}

	if m.waitHist, err = meter.Float64Histogram(
		"callgate.ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting for rate limit tokens"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.escalationCount, err = meter.Int64Counter(
		"callgate.dispatch.escalations",
		metric.WithDescription("Work items escalated to a later tier"),
		metric.WithUnit("{item}"),
	); err != nil {
		return nil, err
	}

	if m.placeholderCnt, err = meter.Int64Counter(
		"callgate.dispatch.placeholders",
		metric.WithDescription("Placeholder results substituted for failed items"),
		metric.WithUnit("{item}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordCall(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attributes()...)

	m.callCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordRetry(ctx context.Context, resource string, attempt int) {
	m.retryCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("callgate.resource", resource),
		attribute.Int("callgate.attempt", attempt),
	))
}

func (m *metricsImpl) RecordBreakerTransition(ctx context.Context, resource, from, to string) {
	m.transitionCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("callgate.resource", resource),
		attribute.String("callgate.from", from),
		attribute.String("callgate.to", to),
	))
}

func (m *metricsImpl) RecordRateLimitWait(ctx context.Context, resource string, wait time.Duration) {
	m.waitHist.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(
		attribute.String("callgate.resource", resource),
	))
}

func (m *metricsImpl) RecordTierEscalation(ctx context.Context, resource, tier string, items int) {
	m.escalationCount.Add(ctx, int64(items), metric.WithAttributes(
		attribute.String("callgate.resource", resource),
		attribute.String("callgate.tier", tier),
	))
}

func (m *metricsImpl) RecordPlaceholder(ctx context.Context, resource, kind string) {
	m.placeholderCnt.Add(ctx, 1, metric.WithAttributes(
		attribute.String("callgate.resource", resource),
		attribute.String("callgate.kind", kind),
	))
}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return &noopMetrics{}
}

type noopMetrics struct{}

func (m *noopMetrics) RecordCall(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
}
func (m *noopMetrics) RecordRetry(ctx context.Context, resource string, attempt int) {}
func (m *noopMetrics) RecordBreakerTransition(ctx context.Context, resource, from, to string) {
}
func (m *noopMetrics) RecordRateLimitWait(ctx context.Context, resource string, wait time.Duration) {
}
func (m *noopMetrics) RecordTierEscalation(ctx context.Context, resource, tier string, items int) {
}
func (m *noopMetrics) RecordPlaceholder(ctx context.Context, resource, kind string) {}
