// Package observe provides application-wide observability primitives for
// Speakscore: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Speakscore metrics.
const meterName = "github.com/speakscore/speakscore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// StageDuration tracks analysis stage latency. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StageDuration metric.Float64Histogram

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// ConversionDuration tracks audio download and WAV conversion latency.
	ConversionDuration metric.Float64Histogram

	// FinalizationDuration tracks submission finalization latency, including
	// database persistence retries.
	FinalizationDuration metric.Float64Histogram

	// --- Counters ---

	// EventPublishes counts event bus publishes. Use with attributes:
	//   attribute.String("topic", ...), attribute.String("status", ...)
	EventPublishes metric.Int64Counter

	// WebhookDeliveries counts push deliveries received on webhook routes.
	// Use with attributes:
	//   attribute.String("topic", ...), attribute.String("status", ...)
	WebhookDeliveries metric.Int64Counter

	// SubmissionsFinalized counts submissions that reached a terminal
	// status. Use with attribute:
	//   attribute.String("status", ...) — "analyzed" or "finalization_failed"
	SubmissionsFinalized metric.Int64Counter

	// --- Error counters ---

	// StageErrors counts analysis stages that completed with an error
	// result. Use with attribute:
	//   attribute.String("stage", ...)
	StageErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveFileSessions tracks the number of audio files currently held on
	// disk awaiting consumer completion.
	ActiveFileSessions metric.Int64UpDownCounter

	// PendingQuestions tracks questions waiting for their audio or
	// transcript counterpart in the coordinator.
	PendingQuestions metric.Int64UpDownCounter

	// ActiveAnalyses tracks questions with analysis stages still running.
	ActiveAnalyses metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// external analysis calls, which can take tens of seconds per recording.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("speakscore.stage.duration",
		metric.WithDescription("Latency of analysis stages by stage and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("speakscore.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConversionDuration, err = m.Float64Histogram("speakscore.conversion.duration",
		metric.WithDescription("Latency of audio download and WAV conversion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalizationDuration, err = m.Float64Histogram("speakscore.finalization.duration",
		metric.WithDescription("Latency of submission finalization including persistence retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EventPublishes, err = m.Int64Counter("speakscore.event.publishes",
		metric.WithDescription("Total event bus publishes by topic and status."),
	); err != nil {
		return nil, err
	}
	if met.WebhookDeliveries, err = m.Int64Counter("speakscore.webhook.deliveries",
		metric.WithDescription("Total push deliveries received by topic and status."),
	); err != nil {
		return nil, err
	}
	if met.SubmissionsFinalized, err = m.Int64Counter("speakscore.submissions.finalized",
		metric.WithDescription("Total submissions reaching a terminal status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StageErrors, err = m.Int64Counter("speakscore.stage.errors",
		metric.WithDescription("Total analysis stages completing with an error result."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveFileSessions, err = m.Int64UpDownCounter("speakscore.active_file_sessions",
		metric.WithDescription("Number of audio files currently held on disk."),
	); err != nil {
		return nil, err
	}
	if met.PendingQuestions, err = m.Int64UpDownCounter("speakscore.pending_questions",
		metric.WithDescription("Questions waiting for their audio or transcript counterpart."),
	); err != nil {
		return nil, err
	}
	if met.ActiveAnalyses, err = m.Int64UpDownCounter("speakscore.active_analyses",
		metric.WithDescription("Questions with analysis stages still running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakscore.http.request.duration",
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

// RecordPublish is a convenience method that records an event bus publish
// counter increment with the standard attribute set.
func (m *Metrics) RecordPublish(ctx context.Context, topic, status string) {
	m.EventPublishes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("status", status),
		),
	)
}

// RecordWebhook is a convenience method that records a push delivery
// counter increment with the standard attribute set.
func (m *Metrics) RecordWebhook(ctx context.Context, topic, status string) {
	m.WebhookDeliveries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("status", status),
		),
	)
}

// RecordStage is a convenience method that records a stage duration sample
// and, for error outcomes, a stage error counter increment.
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.StageErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", stage)),
		)
	}
}

// RecordFinalized is a convenience method that records a finalized
// submission counter increment.
func (m *Metrics) RecordFinalized(ctx context.Context, status string) {
	m.SubmissionsFinalized.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
