package errors

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports malformed or missing required fields on an action.
// Validation failures fail closed: no partial effect is performed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidation builds a ValidationError for a single field.
func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TenantMismatchError reports an action whose arguments name a tenant other
// than the authenticated session's. Always fatal to the single action and
// never silently corrected.
type TenantMismatchError struct {
	Got  string
	Want string
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("tenant mismatch: action targets %q, session is %q", e.Got, e.Want)
}

// StillInProgressError signals idempotency contention: another call holds the
// claim for the same logical operation and did not finish within the wait
// ceiling. The caller should retry after RetryAfter.
type StillInProgressError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *StillInProgressError) Error() string {
	return fmt.Sprintf("operation %s still in progress, retry after %s", e.Key, e.RetryAfter)
}

// ProviderError reports an upstream LLM or network failure with status detail.
// This layer does not retry provider errors automatically.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// SecondaryEffectError wraps a failure of best-effort bookkeeping (counter
// maintenance, denormalization lookups, audit emission). It exists so the one
// layer that discards these failures can log what it is discarding; it must
// never propagate to a caller once the primary effect succeeded.
type SecondaryEffectError struct {
	Effect string
	Err    error
}

func (e *SecondaryEffectError) Error() string {
	return fmt.Sprintf("secondary effect %s failed: %v", e.Effect, e.Err)
}

func (e *SecondaryEffectError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTenantMismatch reports whether err is a TenantMismatchError.
func IsTenantMismatch(err error) bool {
	var target *TenantMismatchError
	return errors.As(err, &target)
}

// IsStillInProgress reports whether err is a StillInProgressError.
func IsStillInProgress(err error) bool {
	var target *StillInProgressError
	return errors.As(err, &target)
}

// IsProvider reports whether err is a ProviderError.
func IsProvider(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

// Code maps an error to its wire-facing taxonomy tag.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation_error"
	case IsTenantMismatch(err):
		return "tenant_mismatch"
	case IsStillInProgress(err):
		return "still_in_progress"
	case IsProvider(err):
		return "provider_error"
	default:
		return "internal_error"
	}
}
