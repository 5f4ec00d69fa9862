package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the coordinator's metric instruments. A nil *Metrics is a
// valid no-op receiver so callers need no enabled-check.
type Metrics struct {
	connectionsActive metric.Int64UpDownCounter
	eventsPublished   metric.Int64Counter
	evictions         metric.Int64Counter
}

// InitMetrics initializes and returns metric instruments.
func InitMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("pulse")

	m := &Metrics{}

	var err error
	m.connectionsActive, err = meter.Int64UpDownCounter(
		"realtime.connections.active",
		metric.WithDescription("Live WebSocket connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection counter: %w", err)
	}

	m.eventsPublished, err = meter.Int64Counter(
		"realtime.events.published",
		metric.WithDescription("Events accepted for fan-out"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event counter: %w", err)
	}

	m.evictions, err = meter.Int64Counter(
		"realtime.connections.evicted",
		metric.WithDescription("Connections evicted by push failure or reap"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create eviction counter: %w", err)
	}

	return m, nil
}

// ConnectionOpened records one new live connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Add(context.Background(), 1)
}

// ConnectionClosed records one closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Add(context.Background(), -1)
}

// EventPublished records an event accepted for fan-out.
func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("event_type", eventType)))
}

// ConnectionEvicted records a forced eviction.
func (m *Metrics) ConnectionEvicted(reason string) {
	if m == nil {
		return
	}
	m.evictions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}
