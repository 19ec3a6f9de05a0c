package status

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Every error returned by a coordinator matches exactly one
// of these through errors.Is.
var (
	ErrValidation          = errors.New("validation: malformed input")
	ErrBackendUnavailable  = errors.New("backend: unavailable")
	ErrNotFound            = errors.New("backend: not found")
	ErrUnauthorized        = errors.New("credential: unauthorized")
	ErrMediaNegotiation    = errors.New("media: negotiation failed")
	ErrConflict            = errors.New("state: conflict")
	ErrDuplicateSubmission = errors.New("settlement: duplicate submission")
)

var (
	ErrNotReady          = fmt.Errorf("%w: fan is not ready", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("%w: transition not allowed", ErrConflict)
	ErrSessionActive     = fmt.Errorf("%w: creator already has an open session", ErrConflict)
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrValidation)
	ErrPartialSettlement = errors.New("settlement: partially failed")
)

// ValidationError reports which field was rejected at the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Unavailable wraps a transport failure so callers can match ErrBackendUnavailable
// while keeping the original error text.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrPartialSettlement):
		// part of the request was committed; report that before the failure class
		return http.StatusMultiStatus
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrMediaNegotiation):
		return http.StatusBadGateway
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
