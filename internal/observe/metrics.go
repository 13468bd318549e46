// Package observe provides the worker's observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge, and HTTP
// middleware for the operational endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the standard /metrics endpoint. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all worker metrics.
const meterName = "github.com/cnyy99/giggle"

// Metrics holds all OpenTelemetry metric instruments for the worker. All
// fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Task lifecycle counters ---

	// TasksStarted counts task handlers spawned.
	TasksStarted metric.Int64Counter

	// TasksCompleted counts tasks that reached COMPLETED.
	TasksCompleted metric.Int64Counter

	// TasksFailed counts tasks that reached FAILED.
	TasksFailed metric.Int64Counter

	// TasksCancelled counts tasks abandoned after a cancellation request.
	TasksCancelled metric.Int64Counter

	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text latency.
	TranscriptionDuration metric.Float64Histogram

	// TranslationDuration tracks the fan-out translation latency.
	TranslationDuration metric.Float64Histogram

	// TaskDuration tracks end-to-end task handling latency.
	TaskDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveTasks tracks the number of in-flight task handlers.
	ActiveTasks metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks operational endpoint latency. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Tasks
// with audio routinely run for minutes, hence the long tail.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TasksStarted, err = m.Int64Counter("giggle.tasks.started",
		metric.WithDescription("Total task handlers spawned."),
	); err != nil {
		return nil, err
	}
	if met.TasksCompleted, err = m.Int64Counter("giggle.tasks.completed",
		metric.WithDescription("Total tasks that reached COMPLETED."),
	); err != nil {
		return nil, err
	}
	if met.TasksFailed, err = m.Int64Counter("giggle.tasks.failed",
		metric.WithDescription("Total tasks that reached FAILED."),
	); err != nil {
		return nil, err
	}
	if met.TasksCancelled, err = m.Int64Counter("giggle.tasks.cancelled",
		metric.WithDescription("Total tasks abandoned after cancellation."),
	); err != nil {
		return nil, err
	}

	if met.TranscriptionDuration, err = m.Float64Histogram("giggle.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslationDuration, err = m.Float64Histogram("giggle.translation.duration",
		metric.WithDescription("Latency of the translation fan-out."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TaskDuration, err = m.Float64Histogram("giggle.task.duration",
		metric.WithDescription("End-to-end task handling latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ActiveTasks, err = m.Int64UpDownCounter("giggle.tasks.active",
		metric.WithDescription("Number of in-flight task handlers."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("giggle.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordStage records one pipeline-stage latency sample on the given
// histogram, tagged with the task id's outcome status.
func RecordStage(ctx context.Context, h metric.Float64Histogram, start time.Time, status string) {
	h.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}
