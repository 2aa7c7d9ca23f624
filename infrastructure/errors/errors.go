// Package errors provides unified error handling for the radar services.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and skip decisions.
type Kind string

const (
	// Upstream fetch outcomes (provider gateway)
	KindNotFound     Kind = "not_found"
	KindRateLimited  Kind = "rate_limited"
	KindUpstream5xx  Kind = "upstream_5xx"
	KindUpstream4xx  Kind = "upstream_4xx"
	KindTransport    Kind = "transport"
	KindDecode       Kind = "decode"
	KindAuthRejected Kind = "auth_rejected"

	// Store and configuration outcomes
	KindStore         Kind = "store"
	KindConfigInvalid Kind = "config_invalid"
	KindInternal      Kind = "internal"
)

// ServiceError is a structured error carrying a kind and optional details.
type ServiceError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(kind Kind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(kind Kind, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

// Fetch outcome constructors

func NotFound(resource, id string) *ServiceError {
	return New(KindNotFound, "resource not found").
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func RateLimited(err error) *ServiceError {
	return Wrap(KindRateLimited, "upstream rate limit exceeded", err)
}

func Upstream(status int, err error) *ServiceError {
	return Wrap(KindUpstream5xx, "upstream server error", err).
		WithDetails("status", status)
}

// UpstreamClient covers 4xx responses other than 404, 401/403 and 429,
// which all have their own kinds. Never retried.
func UpstreamClient(status int) *ServiceError {
	return New(KindUpstream4xx, "unexpected upstream client error").
		WithDetails("status", status)
}

func Transport(err error) *ServiceError {
	return Wrap(KindTransport, "transport failure", err)
}

func Decode(err error) *ServiceError {
	return Wrap(KindDecode, "response decode failed", err)
}

func AuthRejected(status int) *ServiceError {
	return New(KindAuthRejected, "upstream rejected credentials").
		WithDetails("status", status)
}

// Store and configuration constructors

func Store(operation string, err error) *ServiceError {
	return Wrap(KindStore, "store operation failed", err).
		WithDetails("operation", operation)
}

func ConfigInvalid(key, reason string) *ServiceError {
	return New(KindConfigInvalid, "invalid configuration").
		WithDetails("key", key).
		WithDetails("reason", reason)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(KindInternal, message, err)
}

// Helper functions

// KindOf extracts the Kind from an error chain, or KindInternal.
func KindOf(err error) Kind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a fetch error should be retried: only
// rate-limit, upstream 5xx and transport failures qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindUpstream5xx, KindTransport:
		return true
	default:
		return false
	}
}
