// Package observe provides application-wide observability primitives for
// Echoloom: OpenTelemetry metrics, distributed tracing, and structured
// logging helpers that tie them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Echoloom metrics.
const meterName = "github.com/echoloom/echoloom"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks response generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// HandshakeDuration tracks upstream connect + setup acknowledgment time.
	HandshakeDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency (utterance in, audio out).
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// Interruptions counts user barge-ins by classified intent.
	Interruptions metric.Int64Counter

	// FallbackResponses counts fallback utterances served, by tier.
	FallbackResponses metric.Int64Counter

	// QualityIssues counts detected response quality issues by type and severity.
	QualityIssues metric.Int64Counter

	// AdaptationDirectives counts emitted adaptation directives by type.
	AdaptationDirectives metric.Int64Counter

	// SessionClosures counts closed sessions by reason.
	SessionClosures metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("echoloom.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("echoloom.llm.duration",
		metric.WithDescription("Latency of response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("echoloom.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("echoloom.handshake.duration",
		metric.WithDescription("Upstream connect and setup acknowledgment latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("echoloom.turn.duration",
		metric.WithDescription("End-to-end turn latency from utterance to response audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("echoloom.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("echoloom.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("echoloom.interruptions",
		metric.WithDescription("Total user barge-ins by classified intent."),
	); err != nil {
		return nil, err
	}
	if met.FallbackResponses, err = m.Int64Counter("echoloom.fallback.responses",
		metric.WithDescription("Total fallback utterances served by tier."),
	); err != nil {
		return nil, err
	}
	if met.QualityIssues, err = m.Int64Counter("echoloom.quality.issues",
		metric.WithDescription("Total detected response quality issues by type and severity."),
	); err != nil {
		return nil, err
	}
	if met.AdaptationDirectives, err = m.Int64Counter("echoloom.adaptation.directives",
		metric.WithDescription("Total adaptation directives emitted by type."),
	); err != nil {
		return nil, err
	}
	if met.SessionClosures, err = m.Int64Counter("echoloom.session.closures",
		metric.WithDescription("Total closed sessions by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("echoloom.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordInterruption records a barge-in counter increment.
func (m *Metrics) RecordInterruption(ctx context.Context, intent string) {
	m.Interruptions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("intent", intent)),
	)
}

// RecordFallback records a fallback response counter increment.
func (m *Metrics) RecordFallback(ctx context.Context, tier string) {
	m.FallbackResponses.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", tier)),
	)
}

// RecordQualityIssue records a quality issue counter increment.
func (m *Metrics) RecordQualityIssue(ctx context.Context, issueType, severity string) {
	m.QualityIssues.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", issueType),
			attribute.String("severity", severity),
		),
	)
}

// RecordDirective records an adaptation directive counter increment.
func (m *Metrics) RecordDirective(ctx context.Context, directive string) {
	m.AdaptationDirectives.Add(ctx, 1,
		metric.WithAttributes(attribute.String("directive", directive)),
	)
}

// RecordSessionClosure records a session closure counter increment.
func (m *Metrics) RecordSessionClosure(ctx context.Context, reason string) {
	m.SessionClosures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
