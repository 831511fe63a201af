package webhook

import "errors"

var (
	// ErrInvalidSignature covers missing headers, stale timestamps and
	// signature mismatches.
	ErrInvalidSignature = errors.New("webhook: invalid signature")

	// ErrInvalidPayload means the body is not a usable event.
	ErrInvalidPayload = errors.New("webhook: invalid payload")

	// ErrSecretNotConfigured means no signing secret was supplied.
	ErrSecretNotConfigured = errors.New("webhook: signing secret not configured")
)
