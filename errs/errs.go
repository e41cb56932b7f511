// Package errs provides structured error types and helpers for syncbridge services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a relay-specific error category.
type Code string

const (
	// CodeRateLimited indicates that the request exceeded the vendor rate budget.
	CodeRateLimited Code = "rate_limited"
	// CodeBreakerOpen indicates the circuit breaker rejected the call without dialing out.
	CodeBreakerOpen Code = "breaker_open"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeTimeout indicates the call exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeVendor indicates a vendor-side failure (5xx).
	CodeVendor Code = "vendor_error"
	// CodeInvalidPayload indicates the vendor rejected the payload itself (4xx).
	CodeInvalidPayload Code = "invalid_payload"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the syncbridge stack.
type E struct {
	Scope   string
	Code    Code
	HTTP    int
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given scope and error code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:   strings.TrimSpace(scope),
		Code:    code,
		HTTP:    0,
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the relay error code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}

// Retryable reports whether err describes a failure worth retrying later:
// transport faults, vendor 5xx, timeouts, rate limiting, and breaker rejections.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeNetwork, CodeTimeout, CodeVendor, CodeRateLimited, CodeBreakerOpen, CodeUnavailable:
		return true
	default:
		return false
	}
}

// Permanent reports whether err describes a failure that no retry can fix,
// i.e. the vendor judged the payload itself invalid.
func Permanent(err error) bool {
	return CodeOf(err) == CodeInvalidPayload
}
