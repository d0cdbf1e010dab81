// Package errtax is the server's single error taxonomy. Every component
// returns a *Error instead of a bare error so that the protocol layer can
// convert it to a JSON-RPC error without guessing at intent.
package errtax

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"docsearch-mcp/internal/logging"
)

// Kind is the semantic classification of a failure, independent of how it
// is ultimately transported (JSON-RPC code, HTTP status).
type Kind string

const (
	KindInvalidArgument  Kind = "invalid_argument"
	KindNotInitialized   Kind = "not_initialized"
	KindRateLimited      Kind = "rate_limited"
	KindTransientUpstream Kind = "transient_upstream"
	KindInvalidCredential Kind = "invalid_credential"
	KindNotFound         Kind = "not_found"
	KindCancelled        Kind = "cancelled"
	KindInternal         Kind = "internal"
)

// RateLimitDetail carries the information needed to populate Retry-After
// and X-RateLimit-* headers, or the equivalent JSON-RPC error data.
type RateLimitDetail struct {
	Limit      int           `json:"limit"`
	Window     string        `json:"window"`
	RetryAfter time.Duration `json:"retry_after"`
	Remaining  int           `json:"remaining"`
}

// Error is the concrete error type every component constructs and returns.
type Error struct {
	Kind      Kind        `json:"kind"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Component string      `json:"component,omitempty"`
	Cause     error       `json:"-"`
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a caller may retry the operation that produced
// this error. Only transient upstream failures are retryable; rate limiting
// is handled by the caller waiting out RetryAfter, not by blind retry.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransientUpstream
}

// Category exposes Kind as a plain string so that packages which must not
// import errtax (internal/logging, to avoid a cycle through GenerateTraceID)
// can still branch on error classification via a structural interface.
func (e *Error) Category() string {
	return string(e.Kind)
}

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and component/operation context to an existing error.
// If err is nil, Wrap returns nil so call sites can write
// `return errtax.Wrap(err, ...)` unconditionally.
func Wrap(err error, kind Kind, component, operation string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf("%s: %s", operation, err.Error()),
		Component: component,
		Cause:     err,
	}
}

// WithTraceID stamps a trace ID onto the error for client-visible correlation.
func (e *Error) WithTraceID(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// WithContext pulls the trace ID out of ctx (see internal/logging) if one
// hasn't already been set explicitly.
func (e *Error) WithContext(ctx context.Context) *Error {
	if e.TraceID == "" {
		if traceID := logging.GetTraceID(ctx); traceID != "" {
			e.TraceID = traceID
		}
	}
	return e
}

// WithDetails attaches structured detail data (e.g. RateLimitDetail).
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// From recovers an *Error from a generic error chain via errors.As, or
// wraps it as an internal error with a freshly generated trace ID so that
// no failure path ever leaves the taxonomy.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Kind:    KindInternal,
		Message: err.Error(),
		Cause:   err,
		TraceID: logging.GenerateTraceID(),
	}
}

// Constructors for each kind, mirroring the spec's named error conditions.

func InvalidArgument(message string) *Error {
	return New(KindInvalidArgument, message)
}

func NotInitialized() *Error {
	return New(KindNotInitialized, "session has not completed initialize")
}

func RateLimited(limit int, window string, retryAfter time.Duration, remaining int) *Error {
	return New(KindRateLimited, fmt.Sprintf("rate limit exceeded: %d requests per %s", limit, window)).
		WithDetails(RateLimitDetail{Limit: limit, Window: window, RetryAfter: retryAfter, Remaining: remaining})
}

func TransientUpstream(component string, err error) *Error {
	return Wrap(err, KindTransientUpstream, component, "upstream call failed")
}

func InvalidCredential(component, message string) *Error {
	return &Error{Kind: KindInvalidCredential, Message: message, Component: component}
}

func NotFound(resource string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource))
}

func Cancelled() *Error {
	return New(KindCancelled, "request cancelled")
}

func Internal(component string, err error) *Error {
	return Wrap(err, KindInternal, component, "internal error")
}

// jsonRPCCode maps a Kind to the JSON-RPC (or MCP-reserved) error code.
func (k Kind) jsonRPCCode() int {
	switch k {
	case KindInvalidArgument:
		return -32602 // Invalid params
	case KindNotInitialized:
		return -32002 // server error: not initialized
	case KindRateLimited:
		return -32003 // server error: rate limited
	case KindTransientUpstream:
		return -32000 // server error: upstream unavailable
	case KindInvalidCredential:
		return -32001 // server error: credential rejected
	case KindNotFound:
		return -32601 // closest standard equivalent: method/resource not found
	case KindCancelled:
		return -32800 // request cancelled (reserved range)
	default:
		return -32603 // Internal error
	}
}

// HTTPStatus maps a Kind to the HTTP status used when the transport layer
// reports an error outside the JSON-RPC envelope (e.g. before a request
// body is even parsed).
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotInitialized:
		return http.StatusPreconditionRequired
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransientUpstream:
		return http.StatusBadGateway
	case KindInvalidCredential:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
