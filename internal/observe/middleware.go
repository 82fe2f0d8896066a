package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no mux pattern matched. Raw paths are never
// used as metric labels.
const unmatchedRoute = "unmatched"

// statusWriter remembers the status code of the response.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] and the websocket upgrader reach the
// underlying [http.Hijacker].
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware instruments the control API. next is expected to be an
// [http.ServeMux]: the route label and span name come from the pattern the
// mux matched ("POST /api/recording/start"), read back from the request
// after next returns.
//
// Incoming W3C trace context is honoured and the trace ID is echoed in the
// X-Correlation-ID header. Server errors are logged at warn level, everything
// else at debug.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "http "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			elapsed := time.Since(start)

			span.SetName(route)
			span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(sw.status))
			if sw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(sw.status))
			}
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("route", route),
				attribute.String("status", strconv.Itoa(sw.status)),
			))

			level := slog.LevelDebug
			if sw.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			slog.LogAttrs(ctx, level, "request served",
				slog.String("trace_id", cid),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
