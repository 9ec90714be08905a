package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a run-level failure
type Kind string

const (
	KindAuthenticationExpired Kind = "authentication_expired"
	KindProtocolMismatch      Kind = "protocol_mismatch"
	KindDecryptionFailure     Kind = "decryption_failure"
	KindTransport             Kind = "transport"
	KindRateLimited           Kind = "rate_limited"
)

// Error represents a failure with type information.
// Page is 0 when the failure is not tied to a page.
type Error struct {
	Kind    Kind
	Page    int
	Code    int
	Status  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Page > 0 {
		msg = fmt.Sprintf("%s on page %d", msg, e.Page)
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Status != "" {
		msg = fmt.Sprintf("%s [status %q]", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryableStatusCode checks if an HTTP status code indicates a transient error
// the transport may retry before handing the response to the caller
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
