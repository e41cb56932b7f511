// Package retention purges terminal outbox rows after a fixed age.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coachpo/syncbridge/internal/domain/outboxstore"
	"github.com/coachpo/syncbridge/internal/observability"
)

// Config tunes the retention sweep.
type Config struct {
	// MaxAge is how long terminal rows are kept, measured from their last
	// delivery attempt.
	MaxAge time.Duration
	// Schedule is a cron expression for the sweep cadence.
	Schedule string
}

func (c Config) normalize() Config {
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.Schedule == "" {
		c.Schedule = "@hourly"
	}
	return c
}

// Sweeper deletes FAILED and SENT outbox rows whose last attempt is older than
// the retention window. PENDING rows are never touched; the retry scheduler
// owns their lifecycle.
type Sweeper struct {
	cfg   Config
	store outboxstore.Store
	cron  *cron.Cron
	now   func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Sweeper over store.
func New(cfg Config, store outboxstore.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		cfg:   cfg.normalize(),
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start schedules the sweep and returns an error when the cron expression is
// invalid. Sweeps run until Stop.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			observability.Log().Error("retention sweep failed",
				observability.Field{Key: "error", Value: err})
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	observability.Log().Info("retention sweep scheduled",
		observability.Field{Key: "schedule", Value: s.cfg.Schedule},
		observability.Field{Key: "maxAge", Value: s.cfg.MaxAge.String()})
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep deletes terminal rows older than the retention window.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.MaxAge)
	var purged int64
	for _, status := range []outboxstore.Status{outboxstore.StatusFailed, outboxstore.StatusSent} {
		deleted, err := s.store.DeleteByStatusAndLastAttemptBefore(ctx, status, cutoff)
		if err != nil {
			return err
		}
		purged += deleted
	}
	if purged > 0 {
		observability.Log().Info("terminal outbox rows purged",
			observability.Field{Key: "count", Value: purged},
			observability.Field{Key: "cutoff", Value: cutoff.Format(time.RFC3339)})
	}
	return nil
}
