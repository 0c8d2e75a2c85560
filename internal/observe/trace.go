package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/mockinterview"

// Span attribute keys for interview work.
const (
	AttrSessionKey = attribute.Key("mockinterview.session.key")
	AttrSessionID  = attribute.Key("mockinterview.session.id")
)

// Tracer returns the tracer registered under the module path.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SessionSpan tags a span with the session it works on.
func SessionSpan(key, sessionID string) trace.SpanStartOption {
	return trace.WithAttributes(AttrSessionKey.String(key), AttrSessionID.String(sessionID))
}

// CorrelationID is the hex trace id of the span in ctx, or "". The HTTP
// layer echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
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
