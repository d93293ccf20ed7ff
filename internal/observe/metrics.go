// Package observe provides application-wide observability primitives for
// livetranslate: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all livetranslate metrics.
const meterName = "github.com/MrWong99/livetranslate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Counters ---

	// LinesReceived counts lines appended to the history. Use with attribute:
	//   attribute.String("source", "live"|"simulated")
	LinesReceived metric.Int64Counter

	// LinesDropped counts inbound payloads or lines that were discarded. Use
	// with attribute:
	//   attribute.String("reason", ...)
	LinesDropped metric.Int64Counter

	// ReconnectAttempts counts scheduled reconnects that actually dialled.
	ReconnectAttempts metric.Int64Counter

	// SessionTransitions counts session state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a session is live or simulated.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks status server latency, labelled by method,
	// matched route and response status.
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.LinesReceived, err = m.Int64Counter("livetranslate.lines.received",
		metric.WithDescription("Translation lines appended to the history by source."),
	); err != nil {
		return nil, err
	}
	if met.LinesDropped, err = m.Int64Counter("livetranslate.lines.dropped",
		metric.WithDescription("Inbound payloads or lines discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("livetranslate.reconnect.attempts",
		metric.WithDescription("Reconnect attempts made by the live channel."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("livetranslate.session.transitions",
		metric.WithDescription("Session state transitions by from and to state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livetranslate.active_sessions",
		metric.WithDescription("Number of sessions currently live or simulated."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livetranslate.http.request.duration",
		metric.WithDescription("Status server request latency by method, route and status."),
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

// RecordLineReceived records one line appended to the history.
func (m *Metrics) RecordLineReceived(ctx context.Context, source string) {
	m.LinesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordLineDropped records one discarded payload or line.
func (m *Metrics) RecordLineDropped(ctx context.Context, reason string) {
	m.LinesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordReconnectAttempt records one reconnect dial.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context) {
	m.ReconnectAttempts.Add(ctx, 1)
}

// RecordTransition records a session state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
