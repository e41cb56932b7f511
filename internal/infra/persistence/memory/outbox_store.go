// Package memory provides map-backed stores for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coachpo/syncbridge/internal/domain/outboxstore"
)

// OutboxStore keeps outbound events in process memory. It mirrors the
// transactional semantics of the postgres store: saves of one event serialize
// on the row, retry counts never regress, and FAILED rows stay terminal until
// deleted by the retention sweep.
type OutboxStore struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]outboxstore.OutboundEvent
}

// NewOutboxStore constructs an empty in-memory outbox.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{events: make(map[int64]outboxstore.OutboundEvent)}
}

// Save inserts evt when its ID is zero, assigning the next sequence id, or
// updates the stored row otherwise.
func (s *OutboxStore) Save(_ context.Context, evt *outboxstore.OutboundEvent) error {
	if err := evt.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.ID == 0 {
		s.nextID++
		evt.ID = s.nextID
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = time.Now()
		}
		s.events[evt.ID] = *evt
		return nil
	}

	current, ok := s.events[evt.ID]
	if !ok {
		return fmt.Errorf("outbox: event %d not found", evt.ID)
	}
	if current.Status == outboxstore.StatusFailed && evt.Status != outboxstore.StatusFailed {
		return fmt.Errorf("outbox: event %d is terminal", evt.ID)
	}
	if evt.RetryCount < current.RetryCount {
		return fmt.Errorf("outbox: event %d retry count must not decrease", evt.ID)
	}
	evt.CreatedAt = current.CreatedAt
	s.events[evt.ID] = *evt
	return nil
}

// FindByStatus returns events in the given status, oldest attempt first.
func (s *OutboxStore) FindByStatus(_ context.Context, status outboxstore.Status) ([]outboxstore.OutboundEvent, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("outbox: unknown status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(func(evt outboxstore.OutboundEvent) bool {
		return evt.Status == status
	}), nil
}

// CountByStatus reports how many events sit in the given status.
func (s *OutboxStore) CountByStatus(_ context.Context, status outboxstore.Status) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("outbox: unknown status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, evt := range s.events {
		if evt.Status == status {
			n++
		}
	}
	return n, nil
}

// FindByStatusAndLastAttemptBefore returns matching events attempted strictly
// before cutoff, oldest attempt first.
func (s *OutboxStore) FindByStatusAndLastAttemptBefore(_ context.Context, status outboxstore.Status, cutoff time.Time) ([]outboxstore.OutboundEvent, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("outbox: unknown status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(func(evt outboxstore.OutboundEvent) bool {
		return evt.Status == status && evt.LastAttempt.Before(cutoff)
	}), nil
}

// FindByStatusAndLastAttemptAfter returns matching events attempted strictly
// after cutoff, oldest attempt first.
func (s *OutboxStore) FindByStatusAndLastAttemptAfter(_ context.Context, status outboxstore.Status, cutoff time.Time) ([]outboxstore.OutboundEvent, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("outbox: unknown status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(func(evt outboxstore.OutboundEvent) bool {
		return evt.Status == status && evt.LastAttempt.After(cutoff)
	}), nil
}

// DeleteByStatusAndLastAttemptBefore purges matching rows and reports how many
// were removed.
func (s *OutboxStore) DeleteByStatusAndLastAttemptBefore(_ context.Context, status outboxstore.Status, cutoff time.Time) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("outbox: unknown status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, evt := range s.events {
		if evt.Status == status && evt.LastAttempt.Before(cutoff) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

func (s *OutboxStore) collect(match func(outboxstore.OutboundEvent) bool) []outboxstore.OutboundEvent {
	out := make([]outboxstore.OutboundEvent, 0)
	for _, evt := range s.events {
		if match(evt) {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAttempt.Equal(out[j].LastAttempt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastAttempt.Before(out[j].LastAttempt)
	})
	return out
}
