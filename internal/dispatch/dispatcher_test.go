package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coachpo/syncbridge/errs"
	"github.com/coachpo/syncbridge/pkg/circuitbreaker"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		HTTPTimeout:  time.Second,
		RateRequests: 100,
		RatePeriod:   time.Second,
		RateMaxWait:  100 * time.Millisecond,
		Breaker: circuitbreaker.Config{
			Window:           5,
			FailureThreshold: 0.5,
			Cooldown:         time.Minute,
		},
	}
}

func TestSendSuccess(t *testing.T) {
	var body atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		body.Store(string(buf))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.Send(context.Background(), `{"id":"team-1"}`); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := body.Load(); got != `{"id":"team-1"}` {
		t.Fatalf("unexpected payload forwarded: %v", got)
	}
	if d.BreakerState() != circuitbreaker.Closed {
		t.Fatalf("expected breaker closed after success")
	}
}

func TestSendClassifiesVendorFailures(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantCode  errs.Code
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, errs.CodeVendor, true},
		{"bad gateway", http.StatusBadGateway, errs.CodeVendor, true},
		{"throttled", http.StatusTooManyRequests, errs.CodeRateLimited, true},
		{"invalid payload", http.StatusUnprocessableEntity, errs.CodeInvalidPayload, false},
		{"bad request", http.StatusBadRequest, errs.CodeInvalidPayload, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			d, err := New(testConfig(server.URL))
			if err != nil {
				t.Fatalf("new dispatcher: %v", err)
			}
			sendErr := d.Send(context.Background(), `{}`)
			if sendErr == nil {
				t.Fatalf("expected failure for status %d", tc.status)
			}
			if got := errs.CodeOf(sendErr); got != tc.wantCode {
				t.Fatalf("code = %q, want %q", got, tc.wantCode)
			}
			if errs.Retryable(sendErr) != tc.retryable {
				t.Fatalf("Retryable = %v, want %v", errs.Retryable(sendErr), tc.retryable)
			}
			if errs.Permanent(sendErr) == tc.retryable {
				t.Fatalf("Permanent must be the inverse of retryable here")
			}
		})
	}
}

func TestSendNetworkFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // Refuse connections.

	d, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	sendErr := d.Send(context.Background(), `{}`)
	if sendErr == nil {
		t.Fatalf("expected failure against closed server")
	}
	if got := errs.CodeOf(sendErr); got != errs.CodeNetwork {
		t.Fatalf("code = %q, want %q", got, errs.CodeNetwork)
	}
	if !errs.Retryable(sendErr) {
		t.Fatalf("network failures must be retryable")
	}
}

func TestBreakerOpensAndSuppressesCalls(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	// 3 failures out of a 5-slot window crosses the 50% threshold.
	for i := 0; i < 3; i++ {
		if sendErr := d.Send(context.Background(), `{}`); errs.CodeOf(sendErr) != errs.CodeVendor {
			t.Fatalf("expected vendor failure, got %v", sendErr)
		}
	}
	if d.BreakerState() != circuitbreaker.Open {
		t.Fatalf("expected open breaker, got %v", d.BreakerState())
	}

	before := hits.Load()
	sendErr := d.Send(context.Background(), `{}`)
	if got := errs.CodeOf(sendErr); got != errs.CodeBreakerOpen {
		t.Fatalf("code = %q, want %q", got, errs.CodeBreakerOpen)
	}
	if hits.Load() != before {
		t.Fatalf("open breaker must not hit the network")
	}
}

func TestBreakerTransitionsPushed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	var opened atomic.Int32
	d.OnBreakerTransition(func(from, to circuitbreaker.State) {
		if to == circuitbreaker.Open {
			opened.Add(1)
		}
	})
	for i := 0; i < 3; i++ {
		_ = d.Send(context.Background(), `{}`)
	}
	if opened.Load() != 1 {
		t.Fatalf("expected exactly one open transition, got %d", opened.Load())
	}
}

func TestRateLimiterBoundsWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.RateRequests = 1
	cfg.RatePeriod = time.Hour
	cfg.RateMaxWait = 20 * time.Millisecond
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	if err := d.Send(context.Background(), `{}`); err != nil {
		t.Fatalf("first send within quota: %v", err)
	}
	start := time.Now()
	sendErr := d.Send(context.Background(), `{}`)
	if got := errs.CodeOf(sendErr); got != errs.CodeRateLimited {
		t.Fatalf("code = %q, want %q", got, errs.CodeRateLimited)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("rate limit wait was not bounded: %v", elapsed)
	}
	if !errs.Retryable(sendErr) {
		t.Fatalf("rate-limited failures must be retryable")
	}
}
