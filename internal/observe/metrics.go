// Package observe provides the observability primitives for scrumscribe:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter installed by [InitProvider]. The
// package-level [DefaultMetrics] instance suits production wiring; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/scrumscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// STTDuration tracks transcription latency. Attribute: backend.
	STTDuration metric.Float64Histogram

	// MatchDuration tracks one task-matching pass for a speaker.
	MatchDuration metric.Float64Histogram

	// STTRequests counts backend calls. Attributes: backend, status.
	STTRequests metric.Int64Counter

	// STTErrors counts failed backend calls. Attribute: backend.
	STTErrors metric.Int64Counter

	// TrackerRequests counts task-tracker API calls. Attributes: operation, status.
	TrackerRequests metric.Int64Counter

	// SegmentsReceived counts captured utterances. Attribute: source.
	SegmentsReceived metric.Int64Counter

	// TranscriptEntries counts entries accepted into a session.
	TranscriptEntries metric.Int64Counter

	// PendingTranscriptions tracks in-flight transcription attempts.
	PendingTranscriptions metric.Int64UpDownCounter

	// ActiveSessions tracks the number of recording sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// ActiveSpeakers tracks users currently heard in the voice channel.
	ActiveSpeakers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Transcription of a long
// utterance on the local backend can take minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("scrumscribe.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription by backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("scrumscribe.match.duration",
		metric.WithDescription("Latency of one task matching pass."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.STTRequests, err = m.Int64Counter("scrumscribe.stt.requests",
		metric.WithDescription("Total speech-to-text requests by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.STTErrors, err = m.Int64Counter("scrumscribe.stt.errors",
		metric.WithDescription("Total speech-to-text errors by backend."),
	); err != nil {
		return nil, err
	}
	if met.TrackerRequests, err = m.Int64Counter("scrumscribe.tracker.requests",
		metric.WithDescription("Total task tracker requests by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsReceived, err = m.Int64Counter("scrumscribe.segments.received",
		metric.WithDescription("Total captured utterance segments by source."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("scrumscribe.transcript.entries",
		metric.WithDescription("Total transcript entries accepted into a session."),
	); err != nil {
		return nil, err
	}

	if met.PendingTranscriptions, err = m.Int64UpDownCounter("scrumscribe.pending_transcriptions",
		metric.WithDescription("Number of in-flight transcription attempts."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("scrumscribe.active_sessions",
		metric.WithDescription("Number of recording sessions in progress."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSpeakers, err = m.Int64UpDownCounter("scrumscribe.active_speakers",
		metric.WithDescription("Number of users heard in the recorded voice channel."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("scrumscribe.http.request.duration",
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
// fails.
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

// Attr is a short alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSTTRequest records one backend call and, for a non-"ok" status, an
// error.
func (m *Metrics) RecordSTTRequest(ctx context.Context, backend, status string) {
	m.STTRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
	if status == "error" {
		m.STTErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
	}
}

// RecordTrackerRequest records one task-tracker API call.
func (m *Metrics) RecordTrackerRequest(ctx context.Context, operation, status string) {
	m.TrackerRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordSegment records one captured utterance from source.
func (m *Metrics) RecordSegment(ctx context.Context, source string) {
	m.SegmentsReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
