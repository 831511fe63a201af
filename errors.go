package tally

import (
	"errors"
	"fmt"
)

// Sentinel errors. Store backends return the not-found sentinels; the engine
// wraps the rest into the typed errors below.
var (
	// General errors
	ErrNotFound      = errors.New("tally: not found")
	ErrAlreadyExists = errors.New("tally: already exists")
	ErrInvalidInput  = errors.New("tally: invalid input")

	// Record errors
	ErrPlanNotFound         = errors.New("tally: plan not found")
	ErrLotNotFound          = errors.New("tally: credit lot not found")
	ErrOrderNotFound        = errors.New("tally: order not found")
	ErrSnapshotNotFound     = errors.New("tally: entitlement snapshot not found")
	ErrSubscriptionNotFound = errors.New("tally: subscription state not found")
	ErrCustomerNotFound     = errors.New("tally: customer not found")
	ErrEventNotFound        = errors.New("tally: webhook event not found")

	// Concurrency errors
	ErrConcurrencyExhausted = errors.New("tally: concurrent update retries exhausted")

	// Usage errors
	ErrUsageBlocked       = errors.New("tally: account temporarily blocked due to negative balance")
	ErrInsufficientCredit = errors.New("tally: insufficient credits for this job")
	ErrNoCredit           = errors.New("tally: no remaining credits")

	// Refund errors
	ErrRefundInProgress = errors.New("tally: refund already in progress")
	ErrAlreadyRefunded  = errors.New("tally: order has already been refunded")
	ErrNotRefundable    = errors.New("tally: order is not refundable")
	ErrRefundExists     = errors.New("tally: refund request already exists")

	// Provider errors
	ErrProviderNotConfigured = errors.New("tally: payment provider not configured")
	ErrWebhookNotConfigured  = errors.New("tally: webhook secret not configured")

	// Store errors
	ErrStoreClosed     = errors.New("tally: store is closed")
	ErrMigrationFailed = errors.New("tally: migration failed")
)

// ValidationError is a caller mistake or a state conflict the caller can
// act on. It is never retryable.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "tally: " + e.Message
	}
	return fmt.Sprintf("tally: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return e.Err }

func invalid(field, message string) error {
	return ValidationError{Field: field, Message: message}
}

func invalidErr(field string, err error) error {
	return ValidationError{Field: field, Message: err.Error(), Err: err}
}

func invalidBecause(field string, cause error, message string) error {
	return ValidationError{Field: field, Message: message, Err: cause}
}

// ExternalServiceError is a failure of a collaborator (payment provider,
// or a webhook that references state not yet known locally). Webhook
// senders should redeliver.
type ExternalServiceError struct {
	Service string
	Message string
	Err     error
}

func (e ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tally: %s: %s: %v", e.Service, e.Message, e.Err)
	}
	return fmt.Sprintf("tally: %s: %s", e.Service, e.Message)
}

func (e ExternalServiceError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing or invalid setting.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("tally: configuration %s: %s", e.Setting, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrLotNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrSnapshotNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrEventNotFound)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsExternal reports whether err is (or wraps) an ExternalServiceError.
func IsExternal(err error) bool {
	var ee ExternalServiceError
	return errors.As(err, &ee)
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce ConfigurationError
	return errors.As(err, &ce)
}

// IsRetryable returns true if the operation can be retried as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyExhausted) || IsExternal(err)
}
