// Package observe provides application-wide observability primitives for
// talkinghead: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all talkinghead metrics.
const meterName = "github.com/MrWong99/talkinghead"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Worker pipeline ---

	// LLMDuration tracks time from request to first streamed token.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks time from sentence submission to first audio.
	TTSDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures, including retried ones.
	ProviderErrors metric.Int64Counter

	// PipelineFrames counts frames leaving a stage. Use with attributes:
	//   attribute.String("frame", ...), attribute.String("direction", ...)
	PipelineFrames metric.Int64Counter

	// Interruptions counts barge-ins detected by the output transport.
	Interruptions metric.Int64Counter

	// --- Control plane ---

	// SessionsStarted counts sessions whose worker was spawned.
	SessionsStarted metric.Int64Counter

	// SessionFailures counts rejected start requests. Use with attribute:
	//   attribute.String("reason", ...)
	SessionFailures metric.Int64Counter

	// ActiveWorkers tracks worker processes that have not been observed to
	// exit.
	ActiveWorkers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("talkinghead.llm.duration",
		metric.WithDescription("Time to first token of LLM responses."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("talkinghead.tts.duration",
		metric.WithDescription("Time to first audio of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("talkinghead.provider.requests",
		metric.WithDescription("Total provider API requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("talkinghead.provider.errors",
		metric.WithDescription("Total provider errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.PipelineFrames, err = m.Int64Counter("talkinghead.pipeline.frames",
		metric.WithDescription("Frames pushed between pipeline stages."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("talkinghead.pipeline.interruptions",
		metric.WithDescription("Barge-ins that abandoned an in-flight response."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("talkinghead.sessions.started",
		metric.WithDescription("Sessions whose worker process was spawned."),
	); err != nil {
		return nil, err
	}
	if met.SessionFailures, err = m.Int64Counter("talkinghead.sessions.failures",
		metric.WithDescription("Rejected session start requests by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("talkinghead.active_workers",
		metric.WithDescription("Worker processes that are still running."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("talkinghead.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with its outcome.
func (m *Metrics) RecordProviderRequest(ctx context.Context, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFrame counts one frame pushed in the given direction.
func (m *Metrics) RecordFrame(ctx context.Context, name, direction string) {
	m.PipelineFrames.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("frame", name),
			attribute.String("direction", direction),
		),
	)
}

// RecordInterruption counts one barge-in.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordSessionStarted counts a spawned session and a new active worker.
func (m *Metrics) RecordSessionStarted(ctx context.Context) {
	m.SessionsStarted.Add(ctx, 1)
	m.ActiveWorkers.Add(ctx, 1)
}

// RecordSessionFailure counts a rejected start request.
func (m *Metrics) RecordSessionFailure(ctx context.Context, reason string) {
	m.SessionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordWorkerExited decrements the active worker gauge.
func (m *Metrics) RecordWorkerExited(ctx context.Context) {
	m.ActiveWorkers.Add(ctx, -1)
}
