package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/domainscribe"

// Tracer returns the tracer of the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named after the pipeline stage
// ("recording.transcribe", "modelgen.generate"). The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Fail records err on span and marks the span failed with msg. A nil err
// only sets the status.
func Fail(span trace.Span, err error, msg string) {
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, msg)
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span. Log lines of one utterance's trip from capture to
// transcript can then be joined on trace_id.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
