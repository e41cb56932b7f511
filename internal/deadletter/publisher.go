// Package deadletter re-emits unprocessable records to a derived inspection
// stream.
package deadletter

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/coachpo/syncbridge/internal/infra/bus/streambus"
	"github.com/coachpo/syncbridge/internal/observability"
)

// DefaultTopicSuffix derives the dead-letter topic from the source topic.
const DefaultTopicSuffix = ".DLT"

// HeaderRecordID names the header carrying the dead-letter record identifier.
const HeaderRecordID = "dltRecordId"

// Publisher mirrors poisoned records onto `<topic><suffix>` with the failure
// reason attached. Publishing is fire-and-forget: the original record has
// already been acknowledged, so failures here are logged, never propagated.
type Publisher struct {
	bus     streambus.Publisher
	suffix  string
	metrics *observability.RelayMetrics
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMetrics attaches the poison-record counter.
func WithMetrics(metrics *observability.RelayMetrics) Option {
	return func(p *Publisher) {
		p.metrics = metrics
	}
}

// New constructs a Publisher emitting onto topics derived with suffix.
func New(bus streambus.Publisher, suffix string, opts ...Option) *Publisher {
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		suffix = DefaultTopicSuffix
	}
	p := &Publisher{bus: bus, suffix: suffix}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Publish re-emits rec's key and value onto the derived dead-letter topic with
// reason in the error header.
func (p *Publisher) Publish(ctx context.Context, rec streambus.Record, reason string) {
	if p == nil || p.bus == nil {
		return
	}
	headers := make(map[string]string, len(rec.Headers)+2)
	for k, v := range rec.Headers {
		headers[k] = v
	}
	headers[streambus.HeaderError] = reason
	headers[HeaderRecordID] = uuid.NewString()

	dead := streambus.Record{
		Topic:   rec.Topic + p.suffix,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: headers,
	}
	if err := p.bus.Publish(ctx, dead); err != nil {
		observability.Log().Error("dead-letter publish failed",
			observability.Field{Key: "topic", Value: dead.Topic},
			observability.Field{Key: "key", Value: dead.Key},
			observability.Field{Key: "error", Value: err})
		return
	}
	p.metrics.IncPoisoned(ctx)
	observability.Log().Info("record dead-lettered",
		observability.Field{Key: "topic", Value: dead.Topic},
		observability.Field{Key: "key", Value: dead.Key},
		observability.Field{Key: "reason", Value: reason})
}
