package session

import (
	"errors"
	"net/http"
)

// Reasons surfaced to clients. The texts are part of the wire contract.
var (
	ErrTokenRequired     = errors.New("Authentication token required")
	ErrInvalidToken      = errors.New("Invalid authentication token")
	ErrClassAccessDenied = errors.New("Access denied to class")
)

// AuthenticationError rejects a handshake whose token is missing or does
// not resolve to a live session.
type AuthenticationError struct {
	Reason error
	Cause  error
}

func (e *AuthenticationError) Error() string { return e.Reason.Error() }

func (e *AuthenticationError) Unwrap() []error { return unwrapAll(e.Reason, e.Cause) }

// AuthorizationError rejects an authenticated user who may not enter the
// requested class namespace.
type AuthorizationError struct {
	Reason  error
	ClassID string
	Cause   error
}

func (e *AuthorizationError) Error() string { return e.Reason.Error() }

func (e *AuthorizationError) Unwrap() []error { return unwrapAll(e.Reason, e.Cause) }

func unwrapAll(errs ...error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// StatusCode maps a gatekeeper error to the HTTP status returned before the
// upgrade.
func StatusCode(err error) int {
	var authn *AuthenticationError
	if errors.As(err, &authn) {
		return http.StatusUnauthorized
	}
	var authz *AuthorizationError
	if errors.As(err, &authz) {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
