// Package dispatch sends relay payloads to the downstream vendor endpoint,
// guarding every call with a request-rate limiter and a circuit breaker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coachpo/syncbridge/errs"
	"github.com/coachpo/syncbridge/internal/observability"
	"github.com/coachpo/syncbridge/pkg/circuitbreaker"
)

// Config tunes the vendor call path.
type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration

	RateRequests int
	RatePeriod   time.Duration
	RateMaxWait  time.Duration

	Breaker circuitbreaker.Config
}

func (c Config) normalize() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.RateRequests <= 0 {
		c.RateRequests = 20
	}
	if c.RatePeriod <= 0 {
		c.RatePeriod = time.Minute
	}
	if c.RateMaxWait <= 0 {
		c.RateMaxWait = 2 * time.Second
	}
	return c
}

// Dispatcher delivers one payload per call to the vendor. Guards compose
// request -> rate limit -> circuit breaker; only calls that pass both guards
// reach the network.
type Dispatcher struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	maxWait time.Duration
	breaker *circuitbreaker.Breaker
	metrics *observability.RelayMetrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithMetrics attaches relay delivery counters.
func WithMetrics(metrics *observability.RelayMetrics) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// New constructs a Dispatcher for the configured vendor endpoint.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	cfg = cfg.normalize()
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("dispatch: vendor base url required")
	}

	perRequest := cfg.RatePeriod / time.Duration(cfg.RateRequests)
	d := &Dispatcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Every(perRequest), cfg.RateRequests),
		maxWait: cfg.RateMaxWait,
		breaker: circuitbreaker.New(cfg.Breaker),
		metrics: nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// OnBreakerTransition registers fn for push-based breaker state observation.
func (d *Dispatcher) OnBreakerTransition(fn circuitbreaker.TransitionListener) {
	d.breaker.OnTransition(fn)
}

// BreakerState exposes the current circuit state.
func (d *Dispatcher) BreakerState() circuitbreaker.State {
	return d.breaker.State()
}

// Send posts payload to the vendor. Errors carry the relay failure taxonomy:
// errs.Retryable for transport faults, 5xx, timeouts, rate limiting, and
// breaker rejections; errs.Permanent when the vendor judged the payload
// invalid. Guard rejections never feed the breaker window.
func (d *Dispatcher) Send(ctx context.Context, payload string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.maxWait)
	defer cancel()
	if err := d.limiter.Wait(waitCtx); err != nil {
		return errs.New("dispatch/vendor", errs.CodeRateLimited,
			errs.WithMessage("request quota exhausted"), errs.WithCause(err))
	}

	if !d.breaker.Allow() {
		return errs.New("dispatch/vendor", errs.CodeBreakerOpen,
			errs.WithMessage("circuit open, vendor call suppressed"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL, strings.NewReader(payload))
	if err != nil {
		d.breaker.RecordFailure()
		return errs.New("dispatch/vendor", errs.CodeInvalid,
			errs.WithMessage("build vendor request"), errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.breaker.RecordFailure()
		if isTimeout(err) {
			return errs.New("dispatch/vendor", errs.CodeTimeout,
				errs.WithMessage("vendor call timed out"), errs.WithCause(err))
		}
		return errs.New("dispatch/vendor", errs.CodeNetwork,
			errs.WithMessage("vendor call failed"), errs.WithCause(err))
	}
	// Only the status code matters; drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		d.breaker.RecordSuccess()
		d.metrics.IncSent(ctx)
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		d.breaker.RecordFailure()
		return errs.New("dispatch/vendor", errs.CodeRateLimited,
			errs.WithHTTP(resp.StatusCode), errs.WithMessage("vendor throttled the request"))

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The vendor answered; the payload is the problem, not vendor health.
		d.breaker.RecordSuccess()
		return errs.New("dispatch/vendor", errs.CodeInvalidPayload,
			errs.WithHTTP(resp.StatusCode), errs.WithMessage("vendor rejected the payload"))

	default:
		d.breaker.RecordFailure()
		return errs.New("dispatch/vendor", errs.CodeVendor,
			errs.WithHTTP(resp.StatusCode), errs.WithMessage("vendor-side failure"))
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
