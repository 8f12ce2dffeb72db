// Package apperr defines the error taxonomy shared by the auth, rbac and
// reset packages. Errors are wrapped with fmt.Errorf("%w: ...") and only
// translated to HTTP status codes at the handler boundary.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrConflict        = errors.New("conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrRateLimited     = errors.New("rate limited")
	ErrInternal        = errors.New("internal error")
)

// Status returns the HTTP status code for err. Anything outside the
// taxonomy is treated as internal.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the caller-visible message for err. Authentication,
// authorization, token and internal failures never carry detail.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidToken):
		return "Invalid or expired token"
	case errors.Is(err, ErrRateLimited):
		return "too many requests"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidInput):
		return err.Error()
	default:
		return "internal server error"
	}
}

// Known reports whether err already belongs to the taxonomy.
func Known(err error) bool {
	for _, k := range []error{
		ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrInvalidToken,
		ErrConflict, ErrInvalidInput, ErrRateLimited, ErrInternal,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// Internal marks err as an internal failure while keeping it in the chain.
// Errors that already carry a kind are returned unchanged.
func Internal(err error) error {
	if err == nil || Known(err) {
		return err
	}
	return errors.Join(ErrInternal, err)
}
