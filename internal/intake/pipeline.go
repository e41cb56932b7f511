package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/coachpo/syncbridge/errs"
	"github.com/coachpo/syncbridge/internal/domain/outboxstore"
	"github.com/coachpo/syncbridge/internal/domain/recordstore"
	"github.com/coachpo/syncbridge/internal/infra/bus/streambus"
	"github.com/coachpo/syncbridge/internal/observability"
)

// Sender delivers one payload to the downstream vendor.
type Sender interface {
	Send(ctx context.Context, payload string) error
}

// Pauser suspends stream consumption when the vendor is unhealthy.
type Pauser interface {
	PauseConsumer()
}

// DeadLetters re-emits unprocessable records for manual inspection.
type DeadLetters interface {
	Publish(ctx context.Context, rec streambus.Record, reason string)
}

// Pipeline is the stream handler for the intake path. For each record it
// classifies, mirrors the record store, persists an outbound event, and makes
// one best-effort dispatch attempt. The record is acknowledged (nil return)
// only after persistence succeeds; a storage failure propagates so the stream
// redelivers the record instead of losing it.
type Pipeline struct {
	outbox  outboxstore.Store
	records recordstore.Store
	sender  Sender
	pauser  Pauser
	dead    DeadLetters
	metrics *observability.RelayMetrics
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches relay counters.
func WithMetrics(metrics *observability.RelayMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New constructs the intake pipeline.
func New(outbox outboxstore.Store, records recordstore.Store, sender Sender, pauser Pauser, dead DeadLetters, opts ...Option) *Pipeline {
	p := &Pipeline{
		outbox:  outbox,
		records: records,
		sender:  sender,
		pauser:  pauser,
		dead:    dead,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Handle processes one delivered record. Implements streambus.Handler.
func (p *Pipeline) Handle(ctx context.Context, rec streambus.Record) error {
	event, err := Classify(rec)
	if err != nil {
		// Syntactically invalid input never becomes valid on redelivery.
		p.dead.Publish(ctx, rec, err.Error())
		return nil
	}
	if !event.Kind.Routable() {
		p.metrics.IncDropped(ctx)
		observability.Log().Debug("record outside routing table dropped",
			observability.Field{Key: "topic", Value: rec.Topic},
			observability.Field{Key: "key", Value: rec.Key})
		return nil
	}
	if len(rec.Value) > outboxstore.MaxPayloadBytes {
		p.dead.Publish(ctx, rec, fmt.Sprintf("payload exceeds %d bytes", outboxstore.MaxPayloadBytes))
		return nil
	}

	if err := p.mirror(ctx, event); err != nil {
		return fmt.Errorf("intake: mirror record %s: %w", event.RoutingKey, err)
	}

	outbound := &outboxstore.OutboundEvent{
		RoutingKey:  event.RoutingKey,
		Payload:     string(rec.Value),
		Status:      outboxstore.StatusPending,
		LastAttempt: p.now(),
	}
	if err := p.outbox.Save(ctx, outbound); err != nil {
		return fmt.Errorf("intake: persist outbound event %s: %w", event.RoutingKey, err)
	}

	p.attemptDispatch(ctx, rec, outbound)
	return nil
}

func (p *Pipeline) mirror(ctx context.Context, event ClassifiedEvent) error {
	if event.Kind.Removal() {
		return p.records.Delete(ctx, event.RoutingKey)
	}
	return p.records.Upsert(ctx, event.RoutingKey, event.Document)
}

// attemptDispatch makes the best-effort first delivery. The outbound row is
// already durable, so every outcome here acknowledges the stream record; the
// retry scheduler owns everything left pending.
func (p *Pipeline) attemptDispatch(ctx context.Context, rec streambus.Record, outbound *outboxstore.OutboundEvent) {
	err := p.sender.Send(ctx, outbound.Payload)
	if err == nil {
		outbound.Status = outboxstore.StatusSent
		outbound.LastAttempt = p.now()
		p.persistOutcome(ctx, outbound)
		return
	}

	outbound.RetryCount++
	outbound.LastAttempt = p.now()

	if errs.Permanent(err) {
		// The vendor judged the payload invalid; retrying cannot help.
		outbound.Status = outboxstore.StatusFailed
		p.persistOutcome(ctx, outbound)
		p.dead.Publish(ctx, rec, err.Error())
		p.metrics.IncFailed(ctx)
		return
	}

	p.persistOutcome(ctx, outbound)
	p.metrics.IncRetried(ctx)
	p.pauser.PauseConsumer()
	observability.Log().Info("first dispatch attempt failed, event left pending",
		observability.Field{Key: "key", Value: outbound.RoutingKey},
		observability.Field{Key: "error", Value: err})
}

// persistOutcome records the dispatch result. A failure here leaves the row in
// its prior durable state, which the scheduler resolves on a later pass, so it
// is logged rather than propagated.
func (p *Pipeline) persistOutcome(ctx context.Context, outbound *outboxstore.OutboundEvent) {
	if err := p.outbox.Save(ctx, outbound); err != nil {
		observability.Log().Error("outbound event update failed",
			observability.Field{Key: "key", Value: outbound.RoutingKey},
			observability.Field{Key: "status", Value: string(outbound.Status)},
			observability.Field{Key: "error", Value: err})
	}
}
