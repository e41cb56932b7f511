package retry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coachpo/syncbridge/errs"
	"github.com/coachpo/syncbridge/internal/domain/outboxstore"
	"github.com/coachpo/syncbridge/internal/infra/persistence/memory"
)

type scriptedSender struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (s *scriptedSender) Send(_ context.Context, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, payload)
	if err, ok := s.fail[payload]; ok {
		return err
	}
	return nil
}

func (s *scriptedSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

type countingResumer struct {
	mu      sync.Mutex
	resumes int
}

func (r *countingResumer) ResumeConsumer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumes++
}

func (r *countingResumer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumes
}

func seedPending(t *testing.T, store outboxstore.Store, key, payload string, retries int, lastAttempt time.Time) int64 {
	t.Helper()
	evt := &outboxstore.OutboundEvent{
		RoutingKey:  key,
		Payload:     payload,
		Status:      outboxstore.StatusPending,
		RetryCount:  retries,
		LastAttempt: lastAttempt,
	}
	if err := store.Save(context.Background(), evt); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
	return evt.ID
}

func findByID(t *testing.T, store outboxstore.Store, status outboxstore.Status, id int64) outboxstore.OutboundEvent {
	t.Helper()
	events, err := store.FindByStatus(context.Background(), status)
	if err != nil {
		t.Fatalf("find %s: %v", status, err)
	}
	for _, evt := range events {
		if evt.ID == id {
			return evt
		}
	}
	t.Fatalf("event %d not found in status %s", id, status)
	return outboxstore.OutboundEvent{}
}

func newScheduler(store outboxstore.Store, sender Sender, resumer Resumer, now time.Time) *Scheduler {
	cfg := Config{Period: 30 * time.Second, InitialDelay: time.Minute, MaxAttempts: 5}
	return New(cfg, store, sender, resumer, WithClock(func() time.Time { return now }))
}

func TestPassDeliversEligibleEventsOldestFirst(t *testing.T) {
	store := memory.NewOutboxStore()
	sender := &scriptedSender{}
	resumer := &countingResumer{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedPending(t, store, "b", `{"k":"b"}`, 0, now.Add(-2*time.Minute))
	seedPending(t, store, "a", `{"k":"a"}`, 0, now.Add(-3*time.Minute))

	sched := newScheduler(store, sender, resumer, now)
	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}

	calls := sender.sent()
	if len(calls) != 2 || calls[0] != `{"k":"a"}` || calls[1] != `{"k":"b"}` {
		t.Fatalf("expected oldest-first dispatch, got %v", calls)
	}
	count, err := store.CountByStatus(context.Background(), outboxstore.StatusSent)
	if err != nil {
		t.Fatalf("count sent: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected both events sent, got %d", count)
	}
}

func TestPassSkipsEventsStillBackingOff(t *testing.T) {
	store := memory.NewOutboxStore()
	sender := &scriptedSender{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// retryCount=2 needs 4 minutes; only 3 have passed.
	seedPending(t, store, "early", `{"k":"early"}`, 2, now.Add(-3*time.Minute))

	sched := newScheduler(store, sender, &countingResumer{}, now)
	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Fatalf("ineligible event must not be dispatched, got %v", sender.sent())
	}
}

func TestPassStopsOnFirstFailure(t *testing.T) {
	store := memory.NewOutboxStore()
	sender := &scriptedSender{fail: map[string]error{
		`{"k":"second"}`: errs.New("dispatch/vendor", errs.CodeVendor),
	}}
	resumer := &countingResumer{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	firstID := seedPending(t, store, "first", `{"k":"first"}`, 0, now.Add(-30*time.Minute))
	secondID := seedPending(t, store, "second", `{"k":"second"}`, 0, now.Add(-20*time.Minute))
	thirdID := seedPending(t, store, "third", `{"k":"third"}`, 0, now.Add(-10*time.Minute))

	sched := newScheduler(store, sender, resumer, now)
	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}

	first := findByID(t, store, outboxstore.StatusSent, firstID)
	if first.Status != outboxstore.StatusSent {
		t.Fatalf("first event must be sent, got %s", first.Status)
	}

	second := findByID(t, store, outboxstore.StatusPending, secondID)
	if second.RetryCount != 1 {
		t.Fatalf("second event retry count = %d, want 1", second.RetryCount)
	}
	if !second.LastAttempt.Equal(now) {
		t.Fatalf("second event last attempt must advance to now")
	}

	third := findByID(t, store, outboxstore.StatusPending, thirdID)
	if third.RetryCount != 0 || !third.LastAttempt.Equal(now.Add(-10*time.Minute)) {
		t.Fatalf("third event must be untouched, got %+v", third)
	}

	if calls := sender.sent(); len(calls) != 2 {
		t.Fatalf("dispatch must stop after the failure, got %v", calls)
	}
	if resumer.count() != 0 {
		t.Fatalf("a failing pass must not resume the consumer")
	}
}

func TestPassMarksExhaustedEventsFailed(t *testing.T) {
	store := memory.NewOutboxStore()
	sender := &scriptedSender{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	id := seedPending(t, store, "spent", `{"k":"spent"}`, 5, now.Add(-time.Hour))

	sched := newScheduler(store, sender, &countingResumer{}, now)
	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}

	failed := findByID(t, store, outboxstore.StatusFailed, id)
	if failed.RetryCount != 5 {
		t.Fatalf("retry count must not grow past the cap, got %d", failed.RetryCount)
	}
	if len(sender.sent()) != 0 {
		t.Fatalf("exhausted event must not be dispatched")
	}

	// A later pass must not resurrect it.
	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Fatalf("terminal event leaked back into dispatch")
	}
}

func TestPassResumesConsumerOnlyAfterCleanDelivery(t *testing.T) {
	store := memory.NewOutboxStore()
	sender := &scriptedSender{}
	resumer := &countingResumer{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sched := newScheduler(store, sender, resumer, now)

	// Empty backlog: nothing processed, no resume.
	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("empty pass: %v", err)
	}
	if resumer.count() != 0 {
		t.Fatalf("empty pass must not resume")
	}

	seedPending(t, store, "a", `{"k":"a"}`, 0, now.Add(-5*time.Minute))
	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if resumer.count() != 1 {
		t.Fatalf("clean delivering pass must resume exactly once, got %d", resumer.count())
	}
}

func TestPassDeadEndsPermanentFailures(t *testing.T) {
	store := memory.NewOutboxStore()
	sender := &scriptedSender{fail: map[string]error{
		`{"k":"poison"}`: errs.New("dispatch/vendor", errs.CodeInvalidPayload, errs.WithHTTP(422)),
	}}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	id := seedPending(t, store, "poison", `{"k":"poison"}`, 1, now.Add(-time.Hour))

	sched := newScheduler(store, sender, &countingResumer{}, now)
	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}

	failed := findByID(t, store, outboxstore.StatusFailed, id)
	if failed.RetryCount != 2 {
		t.Fatalf("expected retry count 2 after the permanent failure, got %d", failed.RetryCount)
	}
}
