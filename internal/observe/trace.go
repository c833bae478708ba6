package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the radscribe tracer.
const tracerName = "github.com/mwaldt/radscribe"

// StartSpan opens a span on the globally registered tracer provider and
// returns the enriched context. The caller ends the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID returns the active trace ID from ctx, or the empty
// string when no span is recording. The trace ID doubles as the
// request correlation identifier surfaced to HTTP clients.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger derives an [slog.Logger] carrying trace_id and span_id from the
// span context in ctx, so log lines correlate with traces. Without an
// active span the default logger is returned unchanged.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
