// Package observe provides observability primitives for mockinterview:
// OpenTelemetry metrics, distributed tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping via [InitProvider]. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/mockinterview"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Backend calls ---

	// BackendDuration tracks latency of calls to the grading backend. Use
	// with attribute.String("operation", ...).
	BackendDuration metric.Float64Histogram

	// BackendRequests counts backend calls. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BackendErrors counts failed backend calls. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("kind", ...)
	BackendErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Interview flow ---

	// StageTransitions counts stage advances. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StageTransitions metric.Int64Counter

	// StageScores records every authoritative stage score (0-100). Use with
	// attribute.String("stage", ...).
	StageScores metric.Float64Histogram

	// ForcedSubmissions counts MCQ submissions triggered by the countdown.
	ForcedSubmissions metric.Int64Counter

	// StoreErrors counts failed session store operations. Use with
	// attribute.String("op", ...).
	StoreErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions held in memory.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks open event stream connections.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Backend
// calls include LLM-backed grading, so the tail is long.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// scoreBuckets splits the 0-100 score range into deciles.
var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BackendDuration, err = m.Float64Histogram("mockinterview.backend.duration",
		metric.WithDescription("Latency of grading backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendRequests, err = m.Int64Counter("mockinterview.backend.requests",
		metric.WithDescription("Total backend calls by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("mockinterview.backend.errors",
		metric.WithDescription("Total backend errors by operation and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("mockinterview.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.StageTransitions, err = m.Int64Counter("mockinterview.stage.transitions",
		metric.WithDescription("Interview stage advances by source and target stage."),
	); err != nil {
		return nil, err
	}
	if met.StageScores, err = m.Float64Histogram("mockinterview.stage.score",
		metric.WithDescription("Authoritative stage scores."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ForcedSubmissions, err = m.Int64Counter("mockinterview.mcq.forced_submissions",
		metric.WithDescription("MCQ submissions triggered by the countdown reaching zero."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("mockinterview.store.errors",
		metric.WithDescription("Session store failures by operation."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("mockinterview.active_sessions",
		metric.WithDescription("Number of interview sessions held in memory."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("mockinterview.event_subscribers",
		metric.WithDescription("Number of open session event streams."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("mockinterview.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordBackendCall records one backend call's latency and outcome.
func (m *Metrics) RecordBackendCall(ctx context.Context, operation, status string, d time.Duration) {
	m.BackendDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("operation", operation)),
	)
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordBackendError records a failed backend call. kind is a short error
// class such as "status", "transport" or "circuit_open".
func (m *Metrics) RecordBackendError(ctx context.Context, operation, kind string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}

// RecordStageTransition records a stage advance.
func (m *Metrics) RecordStageTransition(ctx context.Context, from, to string) {
	m.StageTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordStageScore records an authoritative score for stage.
func (m *Metrics) RecordStageScore(ctx context.Context, stage string, score float64) {
	m.StageScores.Record(ctx, score,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordStoreError records a failed store operation.
func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	m.StoreErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
