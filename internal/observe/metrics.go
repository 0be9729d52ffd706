// Package observe provides application-wide observability primitives for
// huddle: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// via the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
//
// A nil *Metrics is valid: every Record method is a no-op on nil, so
// components can take metrics as an optional dependency.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all huddle metrics.
const meterName = "github.com/MrWong99/huddle"

// Transcription outcomes recorded by [Metrics.RecordTranscription].
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeLeak        = "leak"
	OutcomeUnavailable = "unavailable"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks end-to-end snippet transcription latency,
	// including queueing in the bulkhead and retries.
	TranscriptionDuration metric.Float64Histogram

	// LLMDuration tracks decision and reply latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks time to a fully synthesized item.
	TTSDuration metric.Float64Histogram

	// PlaybackDuration tracks how long one queue item held the sink.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// Transcriptions counts finished snippets by outcome.
	//   attribute.String("outcome", ...), attribute.String("reason", ...)
	Transcriptions metric.Int64Counter

	// ProviderRequests counts provider API calls.
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// BulkheadRejections counts calls refused by a full bulkhead.
	BulkheadRejections metric.Int64Counter

	// TTSDrops counts queue items that never played.
	//   attribute.String("reason", ...) is one of full, flushed, closed.
	TTSDrops metric.Int64Counter

	// CaptureDrops counts audio chunks dropped at a full speaker channel.
	CaptureDrops metric.Int64Counter

	// GateDecisions counts gate and confirmation outcomes.
	//   attribute.String("stage", ...), attribute.String("decision", ...)
	GateDecisions metric.Int64Counter

	// --- Gauges ---

	// TTSQueueDepth is the current number of queued items per meeting.
	TTSQueueDepth metric.Int64Gauge

	// ActiveMeetings tracks the number of running meetings.
	ActiveMeetings metric.Int64UpDownCounter

	// ActiveSpeakers tracks the number of participants being captured across
	// all meetings.
	ActiveSpeakers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time.
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.TranscriptionDuration, err = histogram("huddle.transcription.duration",
		"Latency of snippet transcription including queueing and retries."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("huddle.llm.duration",
		"Latency of decision and reply calls."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("huddle.tts.duration",
		"Latency of text-to-speech synthesis."); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = histogram("huddle.playback.duration",
		"Time one queue item held the playback sink."); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transcriptions, err = m.Int64Counter("huddle.transcriptions",
		metric.WithDescription("Finished snippet transcriptions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("huddle.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("huddle.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.BulkheadRejections, err = m.Int64Counter("huddle.bulkhead.rejections",
		metric.WithDescription("Calls rejected by a full bulkhead."),
	); err != nil {
		return nil, err
	}
	if met.TTSDrops, err = m.Int64Counter("huddle.tts.drops",
		metric.WithDescription("Speech queue items that never played, by reason."),
	); err != nil {
		return nil, err
	}
	if met.CaptureDrops, err = m.Int64Counter("huddle.capture.drops",
		metric.WithDescription("Audio chunks dropped at a full speaker channel."),
	); err != nil {
		return nil, err
	}
	if met.GateDecisions, err = m.Int64Counter("huddle.gate.decisions",
		metric.WithDescription("Voice gate and confirmation outcomes by stage and decision."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.TTSQueueDepth, err = m.Int64Gauge("huddle.tts.queue.depth",
		metric.WithDescription("Number of queued speech items per meeting."),
	); err != nil {
		return nil, err
	}
	if met.ActiveMeetings, err = m.Int64UpDownCounter("huddle.active_meetings",
		metric.WithDescription("Number of running meetings."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSpeakers, err = m.Int64UpDownCounter("huddle.active_speakers",
		metric.WithDescription("Number of participants being captured across all meetings."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("huddle.http.request.duration",
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

// RecordTranscription records one finished snippet.
func (m *Metrics) RecordTranscription(ctx context.Context, outcome, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("outcome", outcome)))
	m.Transcriptions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("reason", reason),
		),
	)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}

// RecordBulkheadRejection records a call refused by a full bulkhead.
func (m *Metrics) RecordBulkheadRejection(ctx context.Context, bulkhead string) {
	if m == nil {
		return
	}
	m.BulkheadRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("bulkhead", bulkhead)))
}

// RecordTTSDrop records queue items that never played.
func (m *Metrics) RecordTTSDrop(ctx context.Context, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TTSDrops.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordQueueDepth records the current speech queue depth of a meeting.
func (m *Metrics) RecordQueueDepth(ctx context.Context, meetingID string, depth int) {
	if m == nil {
		return
	}
	m.TTSQueueDepth.Record(ctx, int64(depth),
		metric.WithAttributes(attribute.String("meeting_id", meetingID)))
}

// RecordPlayback records how long one item held the sink.
func (m *Metrics) RecordPlayback(ctx context.Context, origin string, seconds float64) {
	if m == nil {
		return
	}
	m.PlaybackDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("origin", origin)))
}

// RecordTTS records the latency of one synthesis.
func (m *Metrics) RecordTTS(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.TTSDuration.Record(ctx, seconds)
}

// RecordLLM records the latency of one decision or reply call.
func (m *Metrics) RecordLLM(ctx context.Context, purpose string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("purpose", purpose)))
}

// RecordCaptureDrop records one dropped audio chunk.
func (m *Metrics) RecordCaptureDrop(ctx context.Context) {
	if m == nil {
		return
	}
	m.CaptureDrops.Add(ctx, 1)
}

// RecordGateDecision records a gate or confirmation outcome.
func (m *Metrics) RecordGateDecision(ctx context.Context, stage, decision string) {
	if m == nil {
		return
	}
	m.GateDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("decision", decision),
		),
	)
}

// AddActiveMeetings adjusts the running meeting count by delta.
func (m *Metrics) AddActiveMeetings(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveMeetings.Add(ctx, delta)
}

// AddActiveSpeakers adjusts the captured participant count by delta.
func (m *Metrics) AddActiveSpeakers(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSpeakers.Add(ctx, delta)
}
