// Package observe provides the scribe service's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed for
// scraping by the Prometheus exporter installed by [InitProvider]. A
// package-level [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/docpen/scribe"

// Metrics holds the service's metric instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// ---- latency ----

	// STTDuration tracks batch transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks completion latency for notes and assistant answers.
	LLMDuration metric.Float64Histogram

	// VoiceAgentDuration tracks voice agent provider API latency.
	VoiceAgentDuration metric.Float64Histogram

	// ToolExecutionDuration tracks clinical tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// ---- counters ----

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tool invocations by tool and status.
	ToolCalls metric.Int64Counter

	// NotesSynthesized counts synthesis attempts by outcome (ok, empty, error).
	NotesSynthesized metric.Int64Counter

	// AssistantQueries counts routed assistant queries by query type.
	AssistantQueries metric.Int64Counter

	// AgentActions counts voice agent lifecycle actions (create, reuse,
	// update, delete).
	AgentActions metric.Int64Counter

	// ActiveLiveSessions tracks open live conversation connections.
	ActiveLiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks API request time by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// Completions for a full note routinely take tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "docpen.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "docpen.llm.duration", "Latency of LLM completions."},
		{&met.VoiceAgentDuration, "docpen.voice_agent.duration", "Latency of voice agent provider calls."},
		{&met.ToolExecutionDuration, "docpen.tool_execution.duration", "Latency of clinical tool execution."},
	}
	for _, h := range histograms {
		var err error
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "docpen.provider.requests", "Provider API requests by provider, kind and status."},
		{&met.ProviderErrors, "docpen.provider.errors", "Provider errors by provider and kind."},
		{&met.ToolCalls, "docpen.tool.calls", "Tool invocations by tool name and status."},
		{&met.NotesSynthesized, "docpen.notes.synthesized", "Note synthesis attempts by outcome."},
		{&met.AssistantQueries, "docpen.assistant.queries", "Assistant queries by query type."},
		{&met.AgentActions, "docpen.voice_agent.actions", "Voice agent lifecycle actions by action."},
	}
	for _, c := range counters {
		var err error
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	var err error
	if met.ActiveLiveSessions, err = m.Int64UpDownCounter("docpen.live.active_sessions",
		metric.WithDescription("Number of open live conversation connections."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("docpen.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first use from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the exporting provider.
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

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall increments the tool call counter.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordNote increments the synthesis counter with the given outcome.
func (m *Metrics) RecordNote(ctx context.Context, outcome string) {
	m.NotesSynthesized.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAssistantQuery increments the assistant query counter.
func (m *Metrics) RecordAssistantQuery(ctx context.Context, queryType string) {
	m.AssistantQueries.Add(ctx, 1, metric.WithAttributes(attribute.String("query_type", queryType)))
}

// RecordAgentAction increments the voice agent lifecycle counter.
func (m *Metrics) RecordAgentAction(ctx context.Context, action string) {
	m.AgentActions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
