package blogapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Every error returned by a Transport wraps exactly one of
// these, or a context error when the caller gave up.
var (
	// ErrTransport is a network failure or a non-2xx response other than 404.
	ErrTransport = errors.New("transport failure")
	// ErrNotFound is a 404 response or an empty result for a lookup.
	ErrNotFound = errors.New("not found")
	// ErrMalformed is a response whose body does not have the expected shape.
	ErrMalformed = errors.New("malformed response")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: API returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap classifies the status: 404 is ErrNotFound, anything else is
// ErrTransport.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return ErrTransport
}

// retryable reports whether a status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsNegative reports whether err should be remembered as a failed fetch.
// Cancellation and other context errors are not.
func IsNegative(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrMalformed) || errors.Is(err, ErrNotFound)
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
}
