// Package observe provides the bot's observability primitives: OpenTelemetry
// metrics and tracing, trace-aware structured logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// Prometheus scraping via [InitProvider]. [DefaultMetrics] returns a shared
// instance bound to the global meter provider; tests should build their own
// with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all murmur metrics.
const meterName = "github.com/MrWong99/murmur"

// Segmentation outcomes used as the "outcome" attribute.
const (
	OutcomeSpeech       = "speech"
	OutcomeNoSpeech     = "no_speech"
	OutcomePrecondition = "precondition"
	OutcomeError        = "error"
)

// Metrics holds every metric instrument of the application. All fields are
// safe for concurrent use.
type Metrics struct {
	// ── Segmentation ───────────────────────────────────────────────────────

	// SegmentDuration tracks wall time of one segmentation run.
	SegmentDuration metric.Float64Histogram

	// SegmentRuns counts segmentation runs by outcome.
	SegmentRuns metric.Int64Counter

	// SegmentFrames counts classified frames by attribute.Bool("voiced", ...).
	SegmentFrames metric.Int64Counter

	// ── Providers ──────────────────────────────────────────────────────────

	// ProviderDuration tracks provider call latency by kind and provider.
	ProviderDuration metric.Float64Histogram

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider calls by provider and kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by backend and
	// target state.
	BreakerTransitions metric.Int64Counter

	// ── Bot ────────────────────────────────────────────────────────────────

	// Commands counts slash command invocations by command name.
	Commands metric.Int64Counter

	// ActiveVoiceConnections tracks guilds with a live voice connection.
	ActiveVoiceConnections metric.Int64UpDownCounter

	// ActiveRecordings tracks /ecoute captures in progress.
	ActiveRecordings metric.Int64UpDownCounter

	// ── HTTP ───────────────────────────────────────────────────────────────

	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Segmentation of a 12 s
// capture and local LLM inference sit at opposite ends of this range.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentDuration, err = m.Float64Histogram("murmur.segment.duration",
		metric.WithDescription("Wall time of one VAD segmentation run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentRuns, err = m.Int64Counter("murmur.segment.runs",
		metric.WithDescription("Segmentation runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SegmentFrames, err = m.Int64Counter("murmur.segment.frames",
		metric.WithDescription("Frames classified during segmentation, split by voiced."),
	); err != nil {
		return nil, err
	}

	if met.ProviderDuration, err = m.Float64Histogram("murmur.provider.duration",
		metric.WithDescription("Latency of STT, LLM, TTS and search calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("murmur.provider.requests",
		metric.WithDescription("Provider calls by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("murmur.provider.errors",
		metric.WithDescription("Failed provider calls by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("murmur.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by backend and state."),
	); err != nil {
		return nil, err
	}

	if met.Commands, err = m.Int64Counter("murmur.commands",
		metric.WithDescription("Slash command invocations by command."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoiceConnections, err = m.Int64UpDownCounter("murmur.voice.connections",
		metric.WithDescription("Guilds with a live voice connection."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("murmur.recordings.active",
		metric.WithDescription("Voice captures in progress."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("murmur.http.request.duration",
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

// DefaultMetrics returns the shared [Metrics] bound to [otel.GetMeterProvider],
// creating it on first use.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegmentation records one segmentation run.
func (m *Metrics) RecordSegmentation(ctx context.Context, outcome string, d time.Duration, frames, voiced int) {
	m.SegmentDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("outcome", outcome)))
	m.SegmentRuns.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	if voiced > 0 {
		m.SegmentFrames.Add(ctx, int64(voiced), metric.WithAttributes(attribute.Bool("voiced", true)))
	}
	if frames-voiced > 0 {
		m.SegmentFrames.Add(ctx, int64(frames-voiced), metric.WithAttributes(attribute.Bool("voiced", false)))
	}
}

// RecordProviderCall records latency and status of one provider call. A
// non-nil err also increments ProviderErrors.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
	}
	m.ProviderDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordBreakerTransition counts a circuit breaker of backend moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("backend", backend), Attr("state", state)))
}

// RecordCommand counts one slash command invocation.
func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(Attr("command", command)))
}
