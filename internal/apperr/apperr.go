// Package apperr holds the dispatch error taxonomy shared by every module and
// its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidState        = errors.New("operation not permitted in current status")
	ErrDuplicateActiveRide = errors.New("rider already has an active ride")
	ErrNoDriverAvailable   = errors.New("no driver available")
	ErrOutOfRange          = errors.New("value out of range")
	ErrConflictingUpdate   = errors.New("conflicting update")
	// ErrStaleLocation marks a position older than the freshness threshold.
	// Matching treats such drivers as offline; it is never returned to callers.
	ErrStaleLocation = errors.New("stale location")

	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	// ErrIntegrity is a data-corruption condition (e.g. a ride referencing a
	// driver that does not exist). It needs operator intervention.
	ErrIntegrity = errors.New("integrity violation")
)

// HTTPStatus maps an error kind to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrDuplicateActiveRide),
		errors.Is(err, ErrConflictingUpdate):
		return http.StatusConflict
	case errors.Is(err, ErrNoDriverAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Recoverable reports whether the caller can act on err (retry, inform the
// user). Integrity violations and unknown errors are not recoverable.
func Recoverable(err error) bool {
	for _, k := range []error{
		ErrInvalidTransition, ErrInvalidState, ErrDuplicateActiveRide, ErrNoDriverAvailable,
		ErrOutOfRange, ErrConflictingUpdate, ErrStaleLocation, ErrNotFound, ErrBadRequest,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
