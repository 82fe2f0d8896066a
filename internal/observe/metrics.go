// Package observe provides application-wide observability primitives for
// domainscribe: OpenTelemetry metrics, tracing, trace-aware logging, and the
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed on
// /metrics through the Prometheus exporter bridge set up by [InitProvider].
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/domainscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// UtterancesPersisted counts utterance files written. Attribute:
	//   attribute.String("mode", "vad"|"push_to_talk")
	UtterancesPersisted metric.Int64Counter

	// UtterancesDiscarded counts closed segments shorter than the minimum
	// utterance length.
	UtterancesDiscarded metric.Int64Counter

	// PersistErrors counts failed utterance writes.
	PersistErrors metric.Int64Counter

	// RingOverruns counts audio blocks dropped because the capture ring was
	// full.
	RingOverruns metric.Int64Counter

	// CallbackErrors counts transient errors reported by the audio backend.
	CallbackErrors metric.Int64Counter

	// UtteranceDuration tracks persisted utterance length.
	UtteranceDuration metric.Float64Histogram

	// AGCGain tracks the applied automatic gain after each block.
	AGCGain metric.Float64Histogram

	// ActiveRecordings tracks the number of running capture sessions.
	ActiveRecordings metric.Int64UpDownCounter

	// --- Downstream latency ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// EnhanceDuration tracks the ffmpeg enhancement pass.
	EnhanceDuration metric.Float64Histogram

	// LLMDuration tracks domain model generation latency.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool call latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control API latency. Attributes:
	//   attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// gainBuckets spans the AGC clamp range [0.1, 10].
var gainBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 6, 8, 10}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.UtterancesPersisted, err = m.Int64Counter("domainscribe.capture.utterances",
		metric.WithDescription("Utterance files written, by capture mode."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDiscarded, err = m.Int64Counter("domainscribe.capture.utterances_discarded",
		metric.WithDescription("Segments discarded for being shorter than the minimum utterance length."),
	); err != nil {
		return nil, err
	}
	if met.PersistErrors, err = m.Int64Counter("domainscribe.capture.persist_errors",
		metric.WithDescription("Failed utterance writes."),
	); err != nil {
		return nil, err
	}
	if met.RingOverruns, err = m.Int64Counter("domainscribe.capture.ring_overruns",
		metric.WithDescription("Audio blocks dropped because the capture ring was full."),
	); err != nil {
		return nil, err
	}
	if met.CallbackErrors, err = m.Int64Counter("domainscribe.capture.callback_errors",
		metric.WithDescription("Transient errors reported by the audio backend."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("domainscribe.capture.utterance.duration",
		metric.WithDescription("Length of persisted utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AGCGain, err = m.Float64Histogram("domainscribe.capture.agc_gain",
		metric.WithDescription("Automatic gain applied per block."),
		metric.WithExplicitBucketBoundaries(gainBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("domainscribe.capture.active",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}

	// Latency histograms.
	if met.STTDuration, err = m.Float64Histogram("domainscribe.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnhanceDuration, err = m.Float64Histogram("domainscribe.enhance.duration",
		metric.WithDescription("Latency of the audio enhancement pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("domainscribe.llm.duration",
		metric.WithDescription("Latency of domain model generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("domainscribe.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("domainscribe.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("domainscribe.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("domainscribe.http.request.duration",
		metric.WithDescription("Control API latency by route pattern and status code."),
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
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance records a persisted utterance of the given length.
func (m *Metrics) RecordUtterance(ctx context.Context, mode string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.UtterancesPersisted.Add(ctx, 1, attrs)
	m.UtteranceDuration.Record(ctx, seconds, attrs)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall records a tool call with its latency and outcome.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", tool)))
}
