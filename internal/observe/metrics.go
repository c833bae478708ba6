// Package observe provides application-wide observability primitives for
// radscribe: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// Prometheus exporter bridge is available via [InitProvider] so that
// metrics can still be scraped via the standard /metrics endpoint. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all radscribe
// metrics.
const meterName = "github.com/mwaldt/radscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text stream session length.
	STTDuration metric.Float64Histogram

	// FormatDuration tracks AI formatting gateway latency.
	FormatDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...),
	//   attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ReportsCreated counts reports created, by modality.
	ReportsCreated metric.Int64Counter

	// RecognitionErrors counts dictation recognition errors by kind.
	RecognitionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveDictationSessions tracks the number of live capture sessions.
	ActiveDictationSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized
// for interactive dictation and formatting latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation
// fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("radscribe.stt.duration",
		metric.WithDescription("Length of speech-to-text stream sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FormatDuration, err = m.Float64Histogram("radscribe.format.duration",
		metric.WithDescription("Latency of AI report formatting."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("radscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("radscribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("radscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ReportsCreated, err = m.Int64Counter("radscribe.reports.created",
		metric.WithDescription("Total reports created by modality."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("radscribe.recognition.errors",
		metric.WithDescription("Total dictation recognition errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveDictationSessions, err = m.Int64UpDownCounter("radscribe.active_dictation_sessions",
		metric.WithDescription("Number of live dictation capture sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen
// with the global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity
// at call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordReportCreated records a report creation counter increment.
func (m *Metrics) RecordReportCreated(ctx context.Context, modality string) {
	m.ReportsCreated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("modality", modality)),
	)
}

// RecordRecognitionError records a dictation recognition error increment.
func (m *Metrics) RecordRecognitionError(ctx context.Context, kind string) {
	m.RecognitionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
