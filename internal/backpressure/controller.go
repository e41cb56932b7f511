// Package backpressure pauses and resumes stream consumption in response to
// downstream vendor health.
package backpressure

import (
	"sync/atomic"

	"github.com/coachpo/syncbridge/internal/infra/bus/streambus"
	"github.com/coachpo/syncbridge/internal/observability"
	"github.com/coachpo/syncbridge/pkg/circuitbreaker"
)

// Lookup resolves a live subscription handle by its registered identifier.
type Lookup interface {
	Lookup(id string) streambus.PausableSubscription
}

// Controller owns the process-wide consumer pause flag. Pause and resume are
// idempotent via compare-and-set, so concurrent callers cannot double-pause
// or double-resume the underlying subscription.
type Controller struct {
	lookup Lookup
	id     string
	paused atomic.Bool
}

// New constructs a Controller that drives the subscription registered under id.
func New(lookup Lookup, id string) *Controller {
	return &Controller{lookup: lookup, id: id}
}

// PauseConsumer suspends stream consumption. Pausing an already-paused
// consumer, or one whose handle has not been registered yet, is a no-op.
func (c *Controller) PauseConsumer() {
	if !c.paused.CompareAndSwap(false, true) {
		return
	}
	sub := c.subscription()
	if sub == nil {
		// The flag still flips so a later resume stays symmetric.
		return
	}
	sub.Pause()
	observability.Log().Info("stream consumption paused",
		observability.Field{Key: "subscription", Value: c.id})
}

// ResumeConsumer restarts stream consumption. Resuming a running consumer is
// a no-op.
func (c *Controller) ResumeConsumer() {
	if !c.paused.CompareAndSwap(true, false) {
		return
	}
	sub := c.subscription()
	if sub == nil {
		return
	}
	sub.Resume()
	observability.Log().Info("stream consumption resumed",
		observability.Field{Key: "subscription", Value: c.id})
}

// Paused reports the current pause flag.
func (c *Controller) Paused() bool {
	return c.paused.Load()
}

// HandleBreakerTransition reacts to pushed circuit state changes: an opening
// circuit pauses consumption, a recovering one resumes it.
func (c *Controller) HandleBreakerTransition(_, to circuitbreaker.State) {
	switch to {
	case circuitbreaker.Open:
		c.PauseConsumer()
	case circuitbreaker.HalfOpen, circuitbreaker.Closed:
		c.ResumeConsumer()
	}
}

func (c *Controller) subscription() streambus.PausableSubscription {
	if c.lookup == nil {
		return nil
	}
	return c.lookup.Lookup(c.id)
}
