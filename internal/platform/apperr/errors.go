// Package apperr defines the error taxonomy shared by the portal's domain
// services and the mapping from those errors to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports a missing or malformed field, raised before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Required returns a ValidationError for a missing field.
func Required(field string) error {
	return &ValidationError{Field: field}
}

// Invalid returns a ValidationError for a field with an unacceptable value.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// LookupError reports a failed profile-to-account resolution.
type LookupError struct {
	Kind string
	ID   string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("resolve %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// RemoteError reports a failed call to a backend collaborator (database,
// remote REST backend, object storage).
type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Remote wraps err as a RemoteError for op. A nil err stays nil.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Err: err}
}

// HTTPStatus maps an error from the taxonomy to the status code handlers
// should answer with.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var le *LookupError
	var re *RemoteError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &le):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &re):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
