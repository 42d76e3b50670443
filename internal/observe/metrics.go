// Package observe provides Themis metrics: OpenTelemetry instruments exported
// in Prometheus format, plus a gin middleware for request latency.
//
// Tests should build [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] (for example a manual reader) to avoid sharing the
// global provider.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "themis"

// Outcome labels for ChatMessages.
const (
	OutcomeEmpty   = "empty"
	OutcomeStatic  = "static"
	OutcomeDynamic = "dynamic"
	OutcomeNoMatch = "no_match"
)

// Metrics holds every instrument Themis records. Safe for concurrent use.
type Metrics struct {
	// ChatMessages counts engine replies by attribute "outcome".
	ChatMessages metric.Int64Counter

	// MatchDuration tracks how long a full Respond call took, fetch included.
	MatchDuration metric.Float64Histogram

	// IntentFetchFailures counts dynamic-intent fetches that degraded to the
	// built-in list. Attribute "kind": transport or malformed.
	IntentFetchFailures metric.Int64Counter

	// UsageNotifications counts usage-counter increments by attribute
	// "status": ok or error.
	UsageNotifications metric.Int64Counter

	// HTTPRequestDuration tracks API latency by "method", "route", "status".
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChatMessages, err = m.Int64Counter("themis.chat.messages",
		metric.WithDescription("Chat replies by outcome."),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("themis.chat.match.duration",
		metric.WithDescription("Latency of a chat reply including the dynamic intent fetch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IntentFetchFailures, err = m.Int64Counter("themis.intents.fetch_failures",
		metric.WithDescription("Dynamic intent fetches that fell back to built-ins only."),
	); err != nil {
		return nil, err
	}
	if met.UsageNotifications, err = m.Int64Counter("themis.intents.usage_notifications",
		metric.WithDescription("Usage counter notifications by status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("themis.http.request.duration",
		metric.WithDescription("HTTP request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		// The noop provider never fails.
		panic(err)
	}
	return met
}

// RecordChat is a convenience for the engine.
func (m *Metrics) RecordChat(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ChatMessages.Add(ctx, 1, attrs)
	m.MatchDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) RecordFetchFailure(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.IntentFetchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordUsageNotification(ctx context.Context, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.UsageNotifications.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
