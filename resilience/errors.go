package resilience

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for retry, breaker and placeholder decisions.
type Kind int

const (
	// KindUnknown is an error nothing has classified. It is treated as transient.
	KindUnknown Kind = iota
	// KindRateLimitExceeded means a local or remote rate limit rejected the call.
	KindRateLimitExceeded
	// KindTransientConnection means the connection failed and a retry may succeed.
	KindTransientConnection
	// KindDependencyUnavailable means a circuit breaker is open for the dependency.
	KindDependencyUnavailable
	// KindValidation means the request itself is invalid.
	KindValidation
	// KindAuthentication means the credentials were rejected.
	KindAuthentication
	// KindTimeout means the call did not finish before its deadline.
	KindTimeout
	// KindCanceled means the caller gave up.
	KindCanceled
	// KindPlaceholderSubstituted marks a degraded result standing in for a failed call.
	KindPlaceholderSubstituted
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindTransientConnection:
		return "transient_connection"
	case KindDependencyUnavailable:
		return "dependency_unavailable"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindPlaceholderSubstituted:
		return "placeholder_substituted"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind. A *Error matches the sentinel of its kind
// under errors.Is.
var (
	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrTransient is returned for connection failures worth retrying.
	ErrTransient = errors.New("resilience: transient connection error")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrValidation is returned for invalid requests.
	ErrValidation = errors.New("resilience: validation error")

	// ErrAuthentication is returned when credentials are rejected.
	ErrAuthentication = errors.New("resilience: authentication error")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrCanceled is returned when the caller cancels the operation.
	ErrCanceled = errors.New("resilience: operation canceled")

	// ErrPlaceholder marks a substituted placeholder result.
	ErrPlaceholder = errors.New("resilience: placeholder substituted")

	// ErrMaxRetriesExceeded is joined with the last error when attempts run out.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrGateFull is returned when a gate slot cannot be obtained in time.
	ErrGateFull = errors.New("resilience: concurrency gate at capacity")
)

// ErrDependencyUnavailable is an alias of ErrCircuitOpen.
var ErrDependencyUnavailable = ErrCircuitOpen

var kindSentinels = map[Kind]error{
	KindRateLimitExceeded:      ErrRateLimitExceeded,
	KindTransientConnection:    ErrTransient,
	KindDependencyUnavailable:  ErrCircuitOpen,
	KindValidation:             ErrValidation,
	KindAuthentication:         ErrAuthentication,
	KindTimeout:                ErrTimeout,
	KindCanceled:               ErrCanceled,
	KindPlaceholderSubstituted: ErrPlaceholder,
}

// Error is a classified failure scoped to a resource.
type Error struct {
	Kind     Kind
	Resource string
	Op       string
	Err      error
}

// NewError creates a classified error. err may be nil.
func NewError(kind Kind, resource string, err error) *Error {
	return &Error{Kind: kind, Resource: resource, Err: err}
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	msg := "resilience: " + e.Kind.String()
	if e.Resource != "" {
		msg += " [" + e.Resource + "]"
	}
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel error for the kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// Transient wraps err as a transient connection error.
func Transient(resource string, err error) error {
	return NewError(KindTransientConnection, resource, err)
}

// Validation wraps err as a validation error.
func Validation(resource string, err error) error {
	return NewError(KindValidation, resource, err)
}

// Authentication wraps err as an authentication error.
func Authentication(resource string, err error) error {
	return NewError(KindAuthentication, resource, err)
}

// Unavailable returns the fail-fast error for an open breaker.
func Unavailable(resource string) error {
	return NewError(KindDependencyUnavailable, resource, nil)
}

// KindOf classifies err. Nil errors report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}

	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, ErrGateFull) {
		return KindRateLimitExceeded
	}
	return KindUnknown
}

// IsRetryable reports whether a failure of this class may succeed on retry.
// Validation, authentication, open breakers and cancellation are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindAuthentication, KindDependencyUnavailable,
		KindCanceled, KindPlaceholderSubstituted:
		return false
	default:
		return true
	}
}
