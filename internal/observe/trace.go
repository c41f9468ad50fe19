package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/scrumscribe"

// Span attribute keys shared by the transcription and session spans.
const (
	KeySessionID = attribute.Key("scrumscribe.session.id")
	KeySpeakerID = attribute.Key("scrumscribe.speaker.id")
	KeyBackend   = attribute.Key("scrumscribe.stt.backend")
	KeyBytes     = attribute.Key("scrumscribe.audio.bytes")
	KeyEntries   = attribute.Key("scrumscribe.session.entries")
)

// Tracer returns the tracer from the globally registered
// [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must end it, usually through [EndSpan].
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, unless it is one of the expected errors,
// and ends the span.
func EndSpan(span trace.Span, err error, expected ...error) {
	if err != nil && !isAny(err, expected) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// It is echoed to HTTP clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, with trace_id when ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if cid := CorrelationID(ctx); cid != "" {
		l = l.With(slog.String("trace_id", cid))
	}
	return l
}
