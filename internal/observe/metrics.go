// Package observe provides application-wide observability primitives for
// avatarchat: OpenTelemetry metrics, tracing, and HTTP middleware that ties
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup] bridges
// them into the default Prometheus registry so they can be scraped from the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
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

// meterName is the instrumentation scope name used for all avatarchat metrics.
const meterName = "github.com/mirrorlab/avatarchat"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscribeDuration tracks backend transcription latency.
	TranscribeDuration metric.Float64Histogram

	// ConverseDuration tracks backend response-generation latency.
	ConverseDuration metric.Float64Histogram

	// Turns counts appended conversation turns.
	Turns metric.Int64Counter

	// FrameUploads counts ambient camera frame uploads by status.
	FrameUploads metric.Int64Counter

	// EmptyTranscripts counts utterances that transcribed to nothing.
	EmptyTranscripts metric.Int64Counter

	// BackendErrors counts failed backend calls.
	BackendErrors metric.Int64Counter

	// Recordings counts started recordings.
	Recordings metric.Int64Counter

	// PipelineBusy tracks whether a turn is in flight (0 or 1).
	PipelineBusy metric.Int64UpDownCounter

	// FeedClients tracks the number of connected feed clients.
	FeedClients metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets are wide; multimodal model responses routinely take seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("avatarchat.transcribe.duration",
		metric.WithDescription("Latency of backend audio transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConverseDuration, err = m.Float64Histogram("avatarchat.converse.duration",
		metric.WithDescription("Latency of backend response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("avatarchat.turns",
		metric.WithDescription("Total conversation turns appended."),
	); err != nil {
		return nil, err
	}
	if met.FrameUploads, err = m.Int64Counter("avatarchat.frame.uploads",
		metric.WithDescription("Total ambient camera frame uploads by status."),
	); err != nil {
		return nil, err
	}
	if met.EmptyTranscripts, err = m.Int64Counter("avatarchat.transcribe.empty",
		metric.WithDescription("Total utterances that transcribed to nothing."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("avatarchat.backend.errors",
		metric.WithDescription("Total failed backend calls."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("avatarchat.recordings",
		metric.WithDescription("Total started recordings."),
	); err != nil {
		return nil, err
	}

	if met.PipelineBusy, err = m.Int64UpDownCounter("avatarchat.pipeline.busy",
		metric.WithDescription("Whether a conversation turn is currently in flight."),
	); err != nil {
		return nil, err
	}
	if met.FeedClients, err = m.Int64UpDownCounter("avatarchat.feed.clients",
		metric.WithDescription("Number of connected feed clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("avatarchat.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// The methods below satisfy the turn pipeline's recorder interface.

// ObserveTranscribe records one transcription latency sample.
func (m *Metrics) ObserveTranscribe(ctx context.Context, d time.Duration) {
	m.TranscribeDuration.Record(ctx, d.Seconds())
}

// ObserveConverse records one response-generation latency sample.
func (m *Metrics) ObserveConverse(ctx context.Context, d time.Duration) {
	m.ConverseDuration.Record(ctx, d.Seconds())
}

// AddTurn increments the turn counter.
func (m *Metrics) AddTurn(ctx context.Context) {
	m.Turns.Add(ctx, 1)
}

// AddEmptyTranscript increments the empty-transcript counter.
func (m *Metrics) AddEmptyTranscript(ctx context.Context) {
	m.EmptyTranscripts.Add(ctx, 1)
}

// AddBackendError increments the backend error counter.
func (m *Metrics) AddBackendError(ctx context.Context) {
	m.BackendErrors.Add(ctx, 1)
}

// SetBusy moves the pipeline-busy gauge to 1 or back to 0.
func (m *Metrics) SetBusy(ctx context.Context, busy bool) {
	if busy {
		m.PipelineBusy.Add(ctx, 1)
	} else {
		m.PipelineBusy.Add(ctx, -1)
	}
}

// RecordFrameUpload records one ambient frame upload attempt by status
// ("ok" or "error").
func (m *Metrics) RecordFrameUpload(ctx context.Context, status string) {
	m.FrameUploads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
