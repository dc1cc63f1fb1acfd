package entities

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds shared by every layer. Concrete errors wrap one of these so
// callers can branch with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrDispatch     = errors.New("dispatch error")
	ErrStore        = errors.New("store error")
	ErrInvalidEvent = errors.New("invalid event")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnavailable  = errors.New("connection unavailable")
)

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DispatchError is a failed action execution (network, non-2xx, timeout, send failure).
type DispatchError struct {
	TriggerID  string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dispatch trigger %s: unexpected status %d", e.TriggerID, e.StatusCode)
	}
	return fmt.Sprintf("dispatch trigger %s: %v", e.TriggerID, e.Err)
}

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }

func (e *DispatchError) Unwrap() error { return e.Err }

// NotFound wraps ErrNotFound with the kind of entity that was missing.
func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// StoreFailure wraps a persistence error as ErrStore, keeping the cause.
func StoreFailure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// InvalidEvent wraps ErrInvalidEvent with a reason.
func InvalidEvent(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, reason)
}

// RateLimited wraps ErrRateLimited with the time until the next send is allowed.
func RateLimited(retryAfter time.Duration) error {
	return fmt.Errorf("%w: retry after %s", ErrRateLimited, retryAfter.Round(time.Millisecond))
}
