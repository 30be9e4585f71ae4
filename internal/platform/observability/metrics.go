package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all sync engine metrics
type Metrics struct {
	meter metric.Meter

	// Cache metrics
	CacheHits          metric.Int64Counter
	CacheMisses        metric.Int64Counter
	CacheEntries       metric.Int64Gauge
	CacheFlushes       metric.Int64Counter
	CacheFlushDuration metric.Float64Histogram

	// Queue metrics
	QueueDepth        metric.Int64Gauge
	MutationsEnqueued metric.Int64Counter
	MutationsReplayed metric.Int64Counter
	MutationsEvicted  metric.Int64Counter
	MutationRetries   metric.Int64Counter
	DrainDuration     metric.Float64Histogram

	// Optimistic coordinator metrics
	OptimisticApplies metric.Int64Counter
	Rollbacks         metric.Int64Counter

	// Remote execution metrics
	RemoteCalls    metric.Int64Counter
	RemoteDuration metric.Float64Histogram

	// Probe metrics
	ProbeChecks metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	// Create resource
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	// Create meter provider
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	meter := provider.Meter(serviceName)

	m := &Metrics{
		meter:    meter,
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	// Cache metrics
	m.CacheHits, err = m.meter.Int64Counter(
		"sync.cache.hits",
		metric.WithDescription("Total cache hits"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"sync.cache.misses",
		metric.WithDescription("Total cache misses"),
	)
	if err != nil {
		return err
	}

	m.CacheEntries, err = m.meter.Int64Gauge(
		"sync.cache.entries",
		metric.WithDescription("Current number of live cache entries"),
	)
	if err != nil {
		return err
	}

	m.CacheFlushes, err = m.meter.Int64Counter(
		"sync.cache.flushes",
		metric.WithDescription("Cache snapshot flushes by outcome"),
	)
	if err != nil {
		return err
	}

	m.CacheFlushDuration, err = m.meter.Float64Histogram(
		"sync.cache.flush.duration",
		metric.WithDescription("Cache snapshot flush duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	// Queue metrics
	m.QueueDepth, err = m.meter.Int64Gauge(
		"sync.queue.depth",
		metric.WithDescription("Pending plus in-flight mutations in the queue"),
	)
	if err != nil {
		return err
	}

	m.MutationsEnqueued, err = m.meter.Int64Counter(
		"sync.queue.enqueued",
		metric.WithDescription("Total mutations enqueued after a failed attempt"),
	)
	if err != nil {
		return err
	}

	m.MutationsReplayed, err = m.meter.Int64Counter(
		"sync.queue.replayed",
		metric.WithDescription("Total queued mutations replayed successfully"),
	)
	if err != nil {
		return err
	}

	m.MutationsEvicted, err = m.meter.Int64Counter(
		"sync.queue.evicted",
		metric.WithDescription("Total mutations evicted after exhausting retries"),
	)
	if err != nil {
		return err
	}

	m.MutationRetries, err = m.meter.Int64Counter(
		"sync.queue.retries",
		metric.WithDescription("Total failed execution attempts scheduled for retry"),
	)
	if err != nil {
		return err
	}

	m.DrainDuration, err = m.meter.Float64Histogram(
		"sync.queue.drain.duration",
		metric.WithDescription("Queue drain pass duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	// Optimistic coordinator metrics
	m.OptimisticApplies, err = m.meter.Int64Counter(
		"sync.optimistic.applies",
		metric.WithDescription("Total optimistic cache applies"),
	)
	if err != nil {
		return err
	}

	m.Rollbacks, err = m.meter.Int64Counter(
		"sync.optimistic.rollbacks",
		metric.WithDescription("Total optimistic applies rolled back after remote failure"),
	)
	if err != nil {
		return err
	}

	// Remote execution metrics
	m.RemoteCalls, err = m.meter.Int64Counter(
		"sync.remote.calls",
		metric.WithDescription("Total remote mutation executions"),
	)
	if err != nil {
		return err
	}

	m.RemoteDuration, err = m.meter.Float64Histogram(
		"sync.remote.duration",
		metric.WithDescription("Remote mutation execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	// Probe metrics
	m.ProbeChecks, err = m.meter.Int64Counter(
		"sync.probe.checks",
		metric.WithDescription("Network probe checks by result"),
	)
	if err != nil {
		return err
	}

	// Circuit breaker metrics
	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"sync.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	// Error metrics
	m.Errors, err = m.meter.Int64Counter(
		"sync.errors",
		metric.WithDescription("Total errors encountered"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// SetCacheEntries sets the live entry count.
func (m *Metrics) SetCacheEntries(ctx context.Context, n int64) {
	if m.CacheEntries == nil {
		return
	}
	m.CacheEntries.Record(ctx, n)
}

// RecordCacheFlush records a snapshot flush and its outcome.
func (m *Metrics) RecordCacheFlush(ctx context.Context, success bool, duration time.Duration) {
	if m.CacheFlushes == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.CacheFlushes.Add(ctx, 1, attrs)
	m.CacheFlushDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// SetQueueDepth sets the pending + in-flight mutation count.
func (m *Metrics) SetQueueDepth(ctx context.Context, n int64) {
	if m.QueueDepth == nil {
		return
	}
	m.QueueDepth.Record(ctx, n)
}

// RecordMutationEnqueued records an enqueue by mutation type.
func (m *Metrics) RecordMutationEnqueued(ctx context.Context, mutationType string) {
	if m.MutationsEnqueued == nil {
		return
	}
	m.MutationsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("type", mutationType)))
}

// RecordMutationReplayed records a successful replay by mutation type.
func (m *Metrics) RecordMutationReplayed(ctx context.Context, mutationType string) {
	if m.MutationsReplayed == nil {
		return
	}
	m.MutationsReplayed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", mutationType)))
}

// RecordMutationEvicted records a permanent eviction by mutation type.
func (m *Metrics) RecordMutationEvicted(ctx context.Context, mutationType string) {
	if m.MutationsEvicted == nil {
		return
	}
	m.MutationsEvicted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", mutationType)))
}

// RecordMutationRetry records a failed attempt scheduled for retry.
func (m *Metrics) RecordMutationRetry(ctx context.Context, mutationType string, retryCount int) {
	if m.MutationRetries == nil {
		return
	}
	m.MutationRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", mutationType),
		attribute.Int("retry_count", retryCount),
	))
}

// RecordDrain records a queue drain pass.
func (m *Metrics) RecordDrain(ctx context.Context, processed int, duration time.Duration) {
	if m.DrainDuration == nil {
		return
	}
	m.DrainDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.Int("processed", processed),
	))
}

// RecordOptimisticApply records an optimistic cache apply.
func (m *Metrics) RecordOptimisticApply(ctx context.Context, mutationType string) {
	if m.OptimisticApplies == nil {
		return
	}
	m.OptimisticApplies.Add(ctx, 1, metric.WithAttributes(attribute.String("type", mutationType)))
}

// RecordRollback records a rollback after a failed remote execution.
func (m *Metrics) RecordRollback(ctx context.Context, mutationType string) {
	if m.Rollbacks == nil {
		return
	}
	m.Rollbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("type", mutationType)))
}

// RecordRemoteCall records a remote mutation execution.
func (m *Metrics) RecordRemoteCall(ctx context.Context, mutationType, status string, duration time.Duration) {
	if m.RemoteCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("type", mutationType),
		attribute.String("status", status),
	)
	m.RemoteCalls.Add(ctx, 1, attrs)
	m.RemoteDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordProbeCheck records a network probe check result.
func (m *Metrics) RecordProbeCheck(ctx context.Context, online bool) {
	if m.ProbeChecks == nil {
		return
	}
	result := "offline"
	if online {
		result = "online"
	}
	m.ProbeChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordError records an error.
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	// The OpenTelemetry Prometheus exporter registers with the default
	// Prometheus registry
	return promhttp.Handler()
}
