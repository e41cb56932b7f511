package retry

import (
	"testing"
	"time"
)

func TestBackoffDoublesPerRetry(t *testing.T) {
	initial := time.Minute
	want := []time.Duration{
		1 * time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
	}
	for n, expected := range want {
		if got := Backoff(initial, n); got != expected {
			t.Fatalf("Backoff(1m, %d) = %v, want %v", n, got, expected)
		}
	}
}

func TestBackoffMonotonicity(t *testing.T) {
	initial := time.Minute
	last := time.Duration(0)
	for n := 0; n <= 4; n++ {
		d := Backoff(initial, n)
		if d <= last {
			t.Fatalf("expected strictly increasing backoff, got %v after %v", d, last)
		}
		last = d
	}
}

func TestBackoffGuardsDegenerateInputs(t *testing.T) {
	if got := Backoff(0, 3); got != 0 {
		t.Fatalf("zero initial delay must yield zero backoff, got %v", got)
	}
	if got := Backoff(time.Minute, -2); got != time.Minute {
		t.Fatalf("negative retry count must behave like zero, got %v", got)
	}
	if got := Backoff(time.Second, 1_000); got <= 0 {
		t.Fatalf("huge retry counts must not overflow, got %v", got)
	}
}

func TestEligible(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	initial := time.Minute

	if Eligible(base.Add(30*time.Second), base, initial, 0) {
		t.Fatalf("event must not be eligible before the backoff elapses")
	}
	if !Eligible(base.Add(time.Minute), base, initial, 0) {
		t.Fatalf("event must be eligible exactly at the backoff boundary")
	}
	if Eligible(base.Add(3*time.Minute), base, initial, 2) {
		t.Fatalf("retryCount=2 needs 4 minutes, 3 must not qualify")
	}
	if !Eligible(base.Add(4*time.Minute), base, initial, 2) {
		t.Fatalf("retryCount=2 must be eligible after 4 minutes")
	}
}
