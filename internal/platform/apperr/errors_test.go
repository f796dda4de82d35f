package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValidationError_Message(t *testing.T) {
	if got := Required("reason").Error(); got != "reason is required" {
		t.Errorf("unexpected message: %q", got)
	}
	if got := Invalid("date", "expected YYYY-MM-DD").Error(); got != "date: expected YYYY-MM-DD" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestValidationError_As(t *testing.T) {
	err := fmt.Errorf("create consultation: %w", Required("reason"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected wrapped ValidationError")
	}
	if ve.Field != "reason" {
		t.Errorf("expected field reason, got %s", ve.Field)
	}
}

func TestLookupError_Unwrap(t *testing.T) {
	err := &LookupError{Kind: "patient profile", ID: "p1", Err: ErrNotFound}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected LookupError to unwrap to ErrNotFound")
	}
}

func TestRemote_NilStaysNil(t *testing.T) {
	if Remote("op", nil) != nil {
		t.Error("expected nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Required("title"), http.StatusBadRequest},
		{"not found", fmt.Errorf("get: %w", ErrNotFound), http.StatusNotFound},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"lookup wrapping not found", &LookupError{Kind: "doctor profile", ID: "d1", Err: ErrNotFound}, http.StatusUnprocessableEntity},
		{"remote", Remote("GET /profiles", errors.New("boom")), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
