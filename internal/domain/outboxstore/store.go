// Package outboxstore defines persistence contracts for durable vendor delivery.
package outboxstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MaxPayloadBytes caps the size of a persisted delivery payload.
const MaxPayloadBytes = 2048

// Status tracks the delivery lifecycle of an outbound event.
type Status string

const (
	// StatusPending marks an event awaiting vendor confirmation.
	StatusPending Status = "PENDING"
	// StatusSent marks an event acknowledged by the vendor.
	StatusSent Status = "SENT"
	// StatusFailed marks an event that exhausted its retry budget.
	StatusFailed Status = "FAILED"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	default:
		return false
	}
}

// OutboundEvent is the durable record of one delivery attempt chain. The store
// assigns ID on first save; RetryCount only ever grows.
type OutboundEvent struct {
	ID          int64
	RoutingKey  string
	Payload     string
	Status      Status
	RetryCount  int
	LastAttempt time.Time
	CreatedAt   time.Time
}

// Validate checks the event invariants before persistence.
func (e *OutboundEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("outbox: event required")
	}
	if strings.TrimSpace(e.RoutingKey) == "" {
		return fmt.Errorf("outbox: routing key required")
	}
	if e.Payload == "" {
		return fmt.Errorf("outbox: payload required")
	}
	if len(e.Payload) > MaxPayloadBytes {
		return fmt.Errorf("outbox: payload exceeds %d bytes", MaxPayloadBytes)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("outbox: unknown status %q", e.Status)
	}
	if e.RetryCount < 0 {
		return fmt.Errorf("outbox: retry count must not be negative")
	}
	return nil
}

// Store abstracts persistence operations for outbound events. Find results
// are ordered by last attempt ascending so retry passes drain oldest first.
type Store interface {
	Save(ctx context.Context, evt *OutboundEvent) error
	FindByStatus(ctx context.Context, status Status) ([]OutboundEvent, error)
	CountByStatus(ctx context.Context, status Status) (int64, error)
	FindByStatusAndLastAttemptBefore(ctx context.Context, status Status, cutoff time.Time) ([]OutboundEvent, error)
	FindByStatusAndLastAttemptAfter(ctx context.Context, status Status, cutoff time.Time) ([]OutboundEvent, error)
	DeleteByStatusAndLastAttemptBefore(ctx context.Context, status Status, cutoff time.Time) (int64, error)
}
