package ivylab

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("ivylab: not found")
	ErrAlreadyExists = errors.New("ivylab: already exists")
	ErrInvalidInput  = errors.New("ivylab: invalid input")
	ErrUnauthorized  = errors.New("ivylab: unauthorized")
	ErrForbidden     = errors.New("ivylab: forbidden")

	// Identity errors
	ErrNoIdentity       = errors.New("ivylab: no user identity")
	ErrRecordNotFound   = errors.New("ivylab: user record not found")
	ErrMalformedRecord  = errors.New("ivylab: malformed user record")
	ErrNotLegacyAccount = errors.New("ivylab: email is not a legacy account")
	ErrTokenMismatch    = errors.New("ivylab: token uid does not match request")
	ErrAlreadyMigrated  = errors.New("ivylab: legacy account already migrated")

	// Subscription errors
	ErrNoBillingReference   = errors.New("ivylab: no billing reference on record")
	ErrNoActiveSubscription = errors.New("ivylab: no active subscription")
	ErrSubscriptionFailed   = errors.New("ivylab: subscription creation failed")
	ErrUnknownPlan          = errors.New("ivylab: unknown plan")

	// Provider errors
	ErrProviderNotConfigured = errors.New("ivylab: billing provider not configured")
	ErrProviderWebhook       = errors.New("ivylab: webhook validation failed")
	ErrAccountsNotConfigured = errors.New("ivylab: account provider not configured")

	// Store errors
	ErrStoreUnavailable = errors.New("ivylab: store unavailable")
	ErrStoreClosed      = errors.New("ivylab: store is closed")
	ErrMigrationFailed  = errors.New("ivylab: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("ivylab: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "ivylab: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("ivylab: %d errors occurred: %v", len(e.Errors), e.Errors[0])
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Err returns nil when empty, the single error when there is one, and the
// MultiError otherwise.
func (e MultiError) Err() error {
	switch len(e.Errors) {
	case 0:
		return nil
	case 1:
		return e.Errors[0]
	default:
		return e
	}
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
