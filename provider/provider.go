// Package provider abstracts the payment provider the engine sells
// through: hosted checkout, customer portal and refunds. Implementations
// live in sub-packages.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/tally/types"
)

// DefaultRefundReason is sent with customer initiated refunds.
const DefaultRefundReason = "customer_request"

var (
	// ErrUnavailable wraps network failures and provider 5xx responses.
	ErrUnavailable = errors.New("provider: unavailable")

	// ErrNotConfigured means a required credential or URL is missing.
	ErrNotConfigured = errors.New("provider: not configured")

	// ErrMalformedResponse means the provider answered 2xx with an
	// unusable body.
	ErrMalformedResponse = errors.New("provider: malformed response")
)

// Provider is a payment provider.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (url string, err error)
	CreatePortalSession(ctx context.Context, req PortalRequest) (url string, err error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}

type CheckoutRequest struct {
	ProductID          string
	ExternalCustomerID string
	ProviderCustomerID string
	CustomerEmail      string
	Metadata           map[string]string
}

type PortalRequest struct {
	ExternalCustomerID string
	ProviderCustomerID string
}

type RefundRequest struct {
	ProviderOrderID string
	Amount          types.Money
	Reason          string
}

type Refund struct {
	ID     string
	Status string
}

// RequestError is a 4xx answer: the provider understood and rejected the
// request.
type RequestError struct {
	Provider   string
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider: %s rejected request (%d): %s", e.Provider, e.StatusCode, e.Detail)
}

var duplicateRefundMarkers = []string{
	"already refunded",
	"already been refunded",
	"already has a refund",
	"refund already",
	"duplicate refund",
	"refund exists",
	"already exists",
}

// IsDuplicateRefund reports whether a refund rejection means the refund
// already exists on the provider side.
func (e *RequestError) IsDuplicateRefund() bool {
	if e.StatusCode == 409 {
		return true
	}
	detail := strings.ToLower(e.Detail)
	for _, marker := range duplicateRefundMarkers {
		if strings.Contains(detail, marker) {
			return true
		}
	}
	return false
}

// AsRequestError unwraps a *RequestError from err.
func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
