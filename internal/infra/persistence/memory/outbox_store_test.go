package memory

import (
	"context"
	"testing"
	"time"

	"github.com/coachpo/syncbridge/internal/domain/outboxstore"
)

func pendingEvent(key string, attempt time.Time) *outboxstore.OutboundEvent {
	return &outboxstore.OutboundEvent{
		RoutingKey:  key,
		Payload:     `{"id":"` + key + `"}`,
		Status:      outboxstore.StatusPending,
		RetryCount:  0,
		LastAttempt: attempt,
	}
}

func TestSaveAssignsSequentialIDs(t *testing.T) {
	store := NewOutboxStore()
	ctx := context.Background()

	first := pendingEvent("team-1", time.Now())
	second := pendingEvent("team-2", time.Now())
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}
	if first.ID == 0 || second.ID == 0 || first.ID == second.ID {
		t.Fatalf("expected distinct non-zero ids, got %d and %d", first.ID, second.ID)
	}
}

func TestSaveReadYourWrites(t *testing.T) {
	store := NewOutboxStore()
	ctx := context.Background()

	evt := pendingEvent("member-1", time.Now())
	if err := store.Save(ctx, evt); err != nil {
		t.Fatalf("save: %v", err)
	}
	pending, err := store.FindByStatus(ctx, outboxstore.StatusPending)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != evt.ID {
		t.Fatalf("expected saved event visible, got %+v", pending)
	}
}

func TestSaveRejectsRetryCountRegression(t *testing.T) {
	store := NewOutboxStore()
	ctx := context.Background()

	evt := pendingEvent("team-1", time.Now())
	evt.RetryCount = 3
	if err := store.Save(ctx, evt); err != nil {
		t.Fatalf("save: %v", err)
	}
	evt.RetryCount = 1
	if err := store.Save(ctx, evt); err == nil {
		t.Fatalf("expected retry count regression to be rejected")
	}
}

func TestFailedRowsAreTerminal(t *testing.T) {
	store := NewOutboxStore()
	ctx := context.Background()

	evt := pendingEvent("team-1", time.Now())
	if err := store.Save(ctx, evt); err != nil {
		t.Fatalf("save: %v", err)
	}
	evt.Status = outboxstore.StatusFailed
	if err := store.Save(ctx, evt); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	evt.Status = outboxstore.StatusPending
	if err := store.Save(ctx, evt); err == nil {
		t.Fatalf("expected terminal row to reject revival")
	}
}

func TestFindByStatusOrdersByLastAttempt(t *testing.T) {
	store := NewOutboxStore()
	ctx := context.Background()
	base := time.Now()

	newest := pendingEvent("c", base.Add(2*time.Minute))
	oldest := pendingEvent("a", base)
	middle := pendingEvent("b", base.Add(time.Minute))
	for _, evt := range []*outboxstore.OutboundEvent{newest, oldest, middle} {
		if err := store.Save(ctx, evt); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	pending, err := store.FindByStatus(ctx, outboxstore.StatusPending)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	if pending[0].RoutingKey != "a" || pending[1].RoutingKey != "b" || pending[2].RoutingKey != "c" {
		t.Fatalf("expected oldest-first ordering, got %v, %v, %v",
			pending[0].RoutingKey, pending[1].RoutingKey, pending[2].RoutingKey)
	}
}

func TestFindByStatusAndLastAttemptCutoffs(t *testing.T) {
	store := NewOutboxStore()
	ctx := context.Background()
	base := time.Now()

	old := pendingEvent("old", base.Add(-time.Hour))
	fresh := pendingEvent("fresh", base.Add(time.Hour))
	for _, evt := range []*outboxstore.OutboundEvent{old, fresh} {
		if err := store.Save(ctx, evt); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	before, err := store.FindByStatusAndLastAttemptBefore(ctx, outboxstore.StatusPending, base)
	if err != nil {
		t.Fatalf("find before: %v", err)
	}
	if len(before) != 1 || before[0].RoutingKey != "old" {
		t.Fatalf("expected only the old event before cutoff, got %+v", before)
	}

	after, err := store.FindByStatusAndLastAttemptAfter(ctx, outboxstore.StatusPending, base)
	if err != nil {
		t.Fatalf("find after: %v", err)
	}
	if len(after) != 1 || after[0].RoutingKey != "fresh" {
		t.Fatalf("expected only the fresh event after cutoff, got %+v", after)
	}
}

func TestDeleteByStatusAndLastAttemptBefore(t *testing.T) {
	store := NewOutboxStore()
	ctx := context.Background()
	base := time.Now()

	stale := pendingEvent("stale", base.Add(-48*time.Hour))
	if err := store.Save(ctx, stale); err != nil {
		t.Fatalf("save: %v", err)
	}
	stale.Status = outboxstore.StatusFailed
	if err := store.Save(ctx, stale); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	keeper := pendingEvent("keeper", base)
	if err := store.Save(ctx, keeper); err != nil {
		t.Fatalf("save keeper: %v", err)
	}

	removed, err := store.DeleteByStatusAndLastAttemptBefore(ctx, outboxstore.StatusFailed, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged row, got %d", removed)
	}
	count, err := store.CountByStatus(ctx, outboxstore.StatusPending)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected keeper to survive, pending=%d", count)
	}
}

func TestSaveValidatesPayloadBound(t *testing.T) {
	store := NewOutboxStore()
	ctx := context.Background()

	huge := pendingEvent("team-1", time.Now())
	huge.Payload = string(make([]byte, outboxstore.MaxPayloadBytes+1))
	if err := store.Save(ctx, huge); err == nil {
		t.Fatalf("expected oversized payload to be rejected")
	}
}
