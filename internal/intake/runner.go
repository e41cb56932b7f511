package intake

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/syncbridge/internal/infra/bus/streambus"
	"github.com/coachpo/syncbridge/internal/observability"
)

const maxResubscribeInterval = 30 * time.Second

// Runner binds the pipeline to the change stream and keeps the subscription
// alive until its context ends. The live handle is registered under the
// consumer group id so the backpressure controller can pause and resume it.
type Runner struct {
	consumer streambus.Consumer
	registry *streambus.Registry
	topic    string
	group    string
	handler  streambus.Handler
}

// NewRunner constructs a Runner for topic under the given consumer group.
func NewRunner(consumer streambus.Consumer, registry *streambus.Registry, topic, group string, handler streambus.Handler) *Runner {
	return &Runner{
		consumer: consumer,
		registry: registry,
		topic:    topic,
		group:    group,
		handler:  handler,
	}
}

// Run subscribes and blocks until ctx is done, retrying failed subscribe
// attempts with exponential backoff.
func (r *Runner) Run(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxResubscribeInterval

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sub, err := r.consumer.Subscribe(ctx, r.topic, r.group, r.handler)
		if err != nil {
			observability.Log().Error("stream subscribe failed",
				observability.Field{Key: "topic", Value: r.topic},
				observability.Field{Key: "group", Value: r.group},
				observability.Field{Key: "error", Value: err})
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = maxResubscribeInterval
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
				continue
			}
		}
		backoffCfg.Reset()

		r.registry.Register(r.group, sub)
		observability.Log().Info("stream subscription established",
			observability.Field{Key: "topic", Value: r.topic},
			observability.Field{Key: "group", Value: r.group})

		<-ctx.Done()
		r.registry.Deregister(r.group)
		sub.Close()
		return ctx.Err()
	}
}
