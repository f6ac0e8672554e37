package client

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a request failed with 401 and a
	// token refresh did not recover it.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTwoFARequired is returned when the login endpoint demands a
	// two-factor verification pin before issuing tokens.
	ErrTwoFARequired = errors.New("two-factor verification required")

	// ErrBadResponse is returned when a response is missing expected
	// fields or is not valid JSON.
	ErrBadResponse = errors.New("malformed response")

	// ErrNotAuthenticated is returned when a request is attempted before
	// any token has been obtained.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// TransportError wraps timeout/connection failures so callers can treat
// every transport-level problem as a single recoverable error kind.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is a transport-level failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
