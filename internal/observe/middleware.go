package observe

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the trace id of every response.
const CorrelationHeader = "X-Correlation-ID"

// statusRecorder captures the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status, r.written = code, true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}

// Middleware wraps each request in a server span continuing any W3C trace
// context sent by the client, and sets [CorrelationHeader] to its trace id.
//
// Once the handler returns, the span and the duration metric are named after
// the matched [http.ServeMux] pattern, so speaker ids in paths do not become
// labels. A handler panic is logged with its stack and answered with 500.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			cid := CorrelationID(ctx)
			w.Header().Set(CorrelationHeader, cid)
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(ctx)
			defer func() {
				if v := recover(); v != nil {
					slog.ErrorContext(ctx, "http handler panicked",
						"trace_id", cid, "path", r.URL.Path, "panic", v, "stack", string(debug.Stack()))
					span.RecordError(fmt.Errorf("panic: %v", v))
					if !rec.written {
						http.Error(rec, "internal error", http.StatusInternalServerError)
					} else {
						rec.status = http.StatusInternalServerError
					}
				}
				finish(m, r, rec.status, span, start, cid)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

func finish(m *Metrics, r *http.Request, status int, span trace.Span, start time.Time, cid string) {
	route := r.URL.Path
	if r.Pattern != "" {
		route = r.Pattern
		span.SetName(r.Pattern)
		span.SetAttributes(semconv.HTTPRoute(r.Pattern))
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
		level = slog.LevelWarn
	}
	span.End()

	elapsed := time.Since(start)
	m.HTTPRequestDuration.Record(r.Context(), elapsed.Seconds(), metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("path", route),
	))
	slog.LogAttrs(r.Context(), level, "request completed",
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	)
}
