package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// RelayMetrics accumulates delivery counters for the relay pipeline. Counters
// are observational only; pipeline correctness never reads them back.
type RelayMetrics struct {
	sentCounter    metric.Int64Counter
	failedCounter  metric.Int64Counter
	retryCounter   metric.Int64Counter
	poisonCounter  metric.Int64Counter
	droppedCounter metric.Int64Counter
}

// NewRelayMetrics registers relay counters on the global meter provider.
func NewRelayMetrics() *RelayMetrics {
	meter := otel.Meter("syncbridge/relay")
	m := new(RelayMetrics)
	m.sentCounter, _ = meter.Int64Counter("relay.events.sent",
		metric.WithDescription("Number of events acknowledged by the vendor"),
		metric.WithUnit("{event}"))
	m.failedCounter, _ = meter.Int64Counter("relay.events.failed",
		metric.WithDescription("Number of events that exhausted their retry budget"),
		metric.WithUnit("{event}"))
	m.retryCounter, _ = meter.Int64Counter("relay.events.retried",
		metric.WithDescription("Number of dispatch retries attempted"),
		metric.WithUnit("{attempt}"))
	m.poisonCounter, _ = meter.Int64Counter("relay.events.poisoned",
		metric.WithDescription("Number of records routed to the dead-letter stream"),
		metric.WithUnit("{record}"))
	m.droppedCounter, _ = meter.Int64Counter("relay.events.dropped",
		metric.WithDescription("Number of unroutable records acknowledged without side effects"),
		metric.WithUnit("{record}"))
	return m
}

// IncSent counts one confirmed vendor delivery.
func (m *RelayMetrics) IncSent(ctx context.Context) {
	if m == nil || m.sentCounter == nil {
		return
	}
	m.sentCounter.Add(ctx, 1)
}

// IncFailed counts one event transitioned to its terminal failed state.
func (m *RelayMetrics) IncFailed(ctx context.Context) {
	if m == nil || m.failedCounter == nil {
		return
	}
	m.failedCounter.Add(ctx, 1)
}

// IncRetried counts one redispatch attempt.
func (m *RelayMetrics) IncRetried(ctx context.Context) {
	if m == nil || m.retryCounter == nil {
		return
	}
	m.retryCounter.Add(ctx, 1)
}

// IncPoisoned counts one dead-lettered record.
func (m *RelayMetrics) IncPoisoned(ctx context.Context) {
	if m == nil || m.poisonCounter == nil {
		return
	}
	m.poisonCounter.Add(ctx, 1)
}

// IncDropped counts one unroutable record dropped on the floor.
func (m *RelayMetrics) IncDropped(ctx context.Context) {
	if m == nil || m.droppedCounter == nil {
		return
	}
	m.droppedCounter.Add(ctx, 1)
}
