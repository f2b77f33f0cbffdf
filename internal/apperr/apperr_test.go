package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrBadRequest, http.StatusBadRequest},
		{fmt.Errorf("rating: %w", ErrOutOfRange), http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("cancel: %w", ErrInvalidState), http.StatusConflict},
		{ErrDuplicateActiveRide, http.StatusConflict},
		{ErrConflictingUpdate, http.StatusConflict},
		{ErrNoDriverAvailable, http.StatusServiceUnavailable},
		{ErrIntegrity, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRecoverable(t *testing.T) {
	if !Recoverable(fmt.Errorf("wrap: %w", ErrConflictingUpdate)) {
		t.Error("wrapped conflicting update should be recoverable")
	}
	if Recoverable(fmt.Errorf("ride r1: %w", ErrIntegrity)) {
		t.Error("integrity violation must not be recoverable")
	}
	if Recoverable(errors.New("unknown")) {
		t.Error("unknown errors must not be recoverable")
	}
}
