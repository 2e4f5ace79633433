package types

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationFailed is returned when the backend (or a local pre-check) rejects input.
	ErrValidationFailed = errors.New("validation failed")
	// ErrAuthenticationFailed is returned for any 401 response.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrNetworkUnavailable is returned when no response was received at all.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrBackendError is returned for every other non-success response.
	ErrBackendError = errors.New("backend error")
)

// RequestError is a request failure classified at the pipeline boundary.
// Kind is one of the sentinel errors above.
type RequestError struct {
	Kind   error
	Method string
	Path   string
	Status int
	Detail string
	Err    error
}

func (e *RequestError) Error() string {
	msg := e.Kind.Error()
	if e.Method != "" {
		msg = fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Kind)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error against its Kind so callers can use errors.Is(err, ErrXxx).
func (e *RequestError) Is(target error) bool {
	return target == e.Kind
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a locally raised validation failure.
func NewValidationError(detail string) error {
	return &RequestError{Kind: ErrValidationFailed, Detail: detail}
}

// DetailOf returns the backend detail message carried by err, if any.
func DetailOf(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Detail
	}
	return ""
}
