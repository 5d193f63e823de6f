// Package observe provides application-wide observability primitives for
// Sahaya: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Sahaya metrics.
const meterName = "github.com/sahaya-ai/sahaya"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// EscalationConfidence tracks the blended confidence of every
	// escalation check, bucketed over [0, 1].
	EscalationConfidence metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts conversation turns recorded by the tracker. Use with
	// attribute: attribute.String("role", "user"|"assistant")
	Turns metric.Int64Counter

	// EscalationChecks counts engine evaluations.
	EscalationChecks metric.Int64Counter

	// AlertsTriggered counts handoff alerts by cause. Use with attributes:
	//   attribute.String("trigger", ...), attribute.String("priority", ...)
	AlertsTriggered metric.Int64Counter

	// ToolCalls counts tool outcomes reported by the pipeline. Use with
	// attributes: attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// NotifyFailures counts subscriber callbacks that errored or panicked.
	// Use with attribute: attribute.String("event", ...)
	NotifyFailures metric.Int64Counter

	// TokensMinted counts operator room tokens issued for handoff joins.
	TokensMinted metric.Int64Counter

	// BackendEvents counts event-callback POSTs to the platform backend.
	// Use with attributes: attribute.String("event", ...), attribute.String("status", ...)
	BackendEvents metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks the number of live tracked calls.
	ActiveConversations metric.Int64UpDownCounter

	// QueueDepth tracks the number of alerts currently queued for operators.
	QueueDepth metric.Int64UpDownCounter

	// DashboardClients tracks connected operator dashboard sockets.
	DashboardClients metric.Int64UpDownCounter

	// ActiveBots tracks live outbound voice-bot sessions.
	ActiveBots metric.Int64UpDownCounter
}

// confidenceBuckets defines histogram bucket boundaries for escalation
// confidence scores, which always land in [0, 1].
var confidenceBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.55, 0.6, 0.7, 0.75, 0.8, 0.9, 1,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for HTTP
// request latencies.
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
	if met.EscalationConfidence, err = m.Float64Histogram("sahaya.escalation.confidence",
		metric.WithDescription("Blended escalation confidence per engine evaluation."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("sahaya.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("sahaya.conversation.turns",
		metric.WithDescription("Total conversation turns recorded, by role."),
	); err != nil {
		return nil, err
	}
	if met.EscalationChecks, err = m.Int64Counter("sahaya.escalation.checks",
		metric.WithDescription("Total escalation engine evaluations."),
	); err != nil {
		return nil, err
	}
	if met.AlertsTriggered, err = m.Int64Counter("sahaya.handoff.alerts",
		metric.WithDescription("Total handoff alerts created, by trigger and priority."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("sahaya.tool.calls",
		metric.WithDescription("Total tool outcomes observed, by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.NotifyFailures, err = m.Int64Counter("sahaya.notify.failures",
		metric.WithDescription("Total notifier subscriber failures, by event."),
	); err != nil {
		return nil, err
	}
	if met.TokensMinted, err = m.Int64Counter("sahaya.token.mints",
		metric.WithDescription("Total operator room tokens minted."),
	); err != nil {
		return nil, err
	}
	if met.BackendEvents, err = m.Int64Counter("sahaya.backend.events",
		metric.WithDescription("Total backend event callbacks, by event and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("sahaya.conversations.active",
		metric.WithDescription("Number of live tracked conversations."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("sahaya.handoff.queue_depth",
		metric.WithDescription("Number of alerts queued for operator pickup."),
	); err != nil {
		return nil, err
	}
	if met.DashboardClients, err = m.Int64UpDownCounter("sahaya.dashboard.clients",
		metric.WithDescription("Number of connected operator dashboard sockets."),
	); err != nil {
		return nil, err
	}
	if met.ActiveBots, err = m.Int64UpDownCounter("sahaya.bot.sessions",
		metric.WithDescription("Number of live outbound voice-bot sessions."),
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

// RecordTurn records one conversation turn for the given role.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordEscalationCheck records one engine evaluation and its confidence.
func (m *Metrics) RecordEscalationCheck(ctx context.Context, confidence float64) {
	m.EscalationChecks.Add(ctx, 1)
	m.EscalationConfidence.Record(ctx, confidence)
}

// RecordAlert records one triggered handoff alert with its cause.
func (m *Metrics) RecordAlert(ctx context.Context, trigger, priority string) {
	m.AlertsTriggered.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.String("priority", priority),
		),
	)
}

// RecordToolCall records one tool outcome.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordNotifyFailure records one failed subscriber delivery.
func (m *Metrics) RecordNotifyFailure(ctx context.Context, event string) {
	m.NotifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordBackendEvent records one backend callback attempt.
func (m *Metrics) RecordBackendEvent(ctx context.Context, event, status string) {
	m.BackendEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event", event),
			attribute.String("status", status),
		),
	)
}
