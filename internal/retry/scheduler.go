package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coachpo/syncbridge/errs"
	"github.com/coachpo/syncbridge/internal/domain/outboxstore"
	"github.com/coachpo/syncbridge/internal/observability"
)

// Sender delivers one payload downstream.
type Sender interface {
	Send(ctx context.Context, payload string) error
}

// Resumer is the narrow backpressure capability the scheduler signals after a
// clean pass.
type Resumer interface {
	ResumeConsumer()
}

// Config tunes the scheduler.
type Config struct {
	Period       time.Duration
	InitialDelay time.Duration
	MaxAttempts  int
}

func (c Config) normalize() Config {
	if c.Period <= 0 {
		c.Period = 30 * time.Second
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Scheduler periodically retries PENDING outbox events, oldest attempt first.
// A pass stops at the first dispatch failure: a vendor that just failed one
// call is likely to fail the rest, and hammering it with the backlog only
// prolongs the outage.
type Scheduler struct {
	cfg     Config
	store   outboxstore.Store
	sender  Sender
	resumer Resumer
	metrics *observability.RelayMetrics
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics attaches relay delivery counters.
func WithMetrics(metrics *observability.RelayMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Scheduler over the given store and sender.
func New(cfg Config, store outboxstore.Store, sender Sender, resumer Resumer, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg.normalize(),
		store:   store,
		sender:  sender,
		resumer: resumer,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start launches the periodic retry loop. Stop cancels it.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Pass(ctx); err != nil {
					observability.Log().Error("retry pass aborted",
						observability.Field{Key: "error", Value: err})
				}
			}
		}
	}()
}

// Stop cancels the retry loop and waits for the in-flight pass to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}

// Pass runs one retry sweep over the PENDING backlog. Events past the retry
// ceiling transition to FAILED; eligible events are redispatched in ascending
// last-attempt order until the first failure. A pass that redelivered at
// least one event with zero failures signals the consumer to resume.
func (s *Scheduler) Pass(ctx context.Context) error {
	pending, err := s.store.FindByStatus(ctx, outboxstore.StatusPending)
	if err != nil {
		return fmt.Errorf("retry: list pending: %w", err)
	}

	now := s.now()
	delivered := 0
	for i := range pending {
		evt := pending[i]

		if evt.RetryCount >= s.cfg.MaxAttempts {
			evt.Status = outboxstore.StatusFailed
			if err := s.store.Save(ctx, &evt); err != nil {
				return fmt.Errorf("retry: mark event %d failed: %w", evt.ID, err)
			}
			s.metrics.IncFailed(ctx)
			observability.Log().Error("event exhausted retry budget",
				observability.Field{Key: "event_id", Value: evt.ID},
				observability.Field{Key: "routing_key", Value: evt.RoutingKey},
				observability.Field{Key: "retries", Value: evt.RetryCount})
			continue
		}

		if !Eligible(now, evt.LastAttempt, s.cfg.InitialDelay, evt.RetryCount) {
			continue
		}

		s.metrics.IncRetried(ctx)
		sendErr := s.sender.Send(ctx, evt.Payload)
		if sendErr == nil {
			evt.Status = outboxstore.StatusSent
			evt.LastAttempt = now
			if err := s.store.Save(ctx, &evt); err != nil {
				return fmt.Errorf("retry: mark event %d sent: %w", evt.ID, err)
			}
			delivered++
			continue
		}

		evt.RetryCount++
		evt.LastAttempt = now
		if errs.Permanent(sendErr) {
			// No number of retries fixes a payload the vendor rejects.
			evt.Status = outboxstore.StatusFailed
			s.metrics.IncFailed(ctx)
		}
		if err := s.store.Save(ctx, &evt); err != nil {
			return fmt.Errorf("retry: record failure for event %d: %w", evt.ID, err)
		}
		observability.Log().Error("retry dispatch failed, stopping pass",
			observability.Field{Key: "event_id", Value: evt.ID},
			observability.Field{Key: "routing_key", Value: evt.RoutingKey},
			observability.Field{Key: "retries", Value: evt.RetryCount},
			observability.Field{Key: "error", Value: sendErr})
		// Leave the rest of the backlog for the next pass.
		return nil
	}

	if delivered > 0 && s.resumer != nil {
		s.resumer.ResumeConsumer()
	}
	return nil
}
