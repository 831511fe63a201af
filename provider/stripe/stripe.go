// Package stripe implements provider.Provider on Stripe Checkout, the
// Stripe billing portal and Stripe refunds.
//
// Plans map to Stripe prices: a plan's provider product id is the Stripe
// price id. Orders are keyed by payment intent id, which is what Stripe
// refunds and charge events reference.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/xraph/tally/provider"
)

// Name is reported by Client.Name and recorded on webhook events.
const Name = "stripe"

// refundNamespace seeds deterministic refund idempotency keys.
var refundNamespace = uuid.MustParse("6f0c1a52-3f7e-4d8b-9a43-1c9e6b7d2a10")

// Config holds Stripe credentials and redirect targets.
type Config struct {
	SecretKey       string `json:"secret_key" mapstructure:"secret_key" yaml:"secret_key"`
	WebhookSecret   string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`
	SuccessURL      string `json:"success_url" mapstructure:"success_url" yaml:"success_url"`
	CancelURL       string `json:"cancel_url" mapstructure:"cancel_url" yaml:"cancel_url"`
	PortalReturnURL string `json:"portal_return_url" mapstructure:"portal_return_url" yaml:"portal_return_url"`
}

// Client talks to Stripe through a dedicated client.API, so several
// clients with different keys can coexist in one process.
type Client struct {
	cfg Config
	api *client.API
}

var _ provider.Provider = (*Client)(nil)

// Option configures a Client.
type Option func(*options)

type options struct {
	backends *stripeapi.Backends
}

// WithBackends points the client at custom backends. Used by tests.
func WithBackends(b *stripeapi.Backends) Option {
	return func(o *options) { o.backends = b }
}

// New builds a client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key", provider.ErrNotConfigured)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{cfg: cfg, api: client.New(cfg.SecretKey, o.backends)}, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) CreateCheckout(ctx context.Context, req provider.CheckoutRequest) (string, error) {
	if c.cfg.SuccessURL == "" {
		return "", fmt.Errorf("%w: stripe success url", provider.ErrNotConfigured)
	}

	metadata := maps.Clone(req.Metadata)
	if metadata == nil {
		metadata = make(map[string]string, 2)
	}
	metadata["user_id"] = req.ExternalCustomerID
	metadata["product_id"] = req.ProductID

	params := &stripeapi.CheckoutSessionParams{
		SuccessURL:        stripeapi.String(c.cfg.SuccessURL),
		ClientReferenceID: stripeapi.String(req.ExternalCustomerID),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{Price: stripeapi.String(req.ProductID), Quantity: stripeapi.Int64(1)},
		},
	}
	params.Context = ctx
	params.Metadata = metadata
	if c.cfg.CancelURL != "" {
		params.CancelURL = stripeapi.String(c.cfg.CancelURL)
	}

	switch {
	case req.ProviderCustomerID != "":
		params.Customer = stripeapi.String(req.ProviderCustomerID)
	case req.CustomerEmail != "":
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}

	// Metadata is copied onto the payment intent or subscription so the
	// charge and subscription events can be attributed as well.
	if metadata["plan_type"] == "subscription" {
		params.Mode = stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripeapi.CheckoutSessionSubscriptionDataParams{Metadata: metadata}
	} else {
		params.Mode = stripeapi.String(string(stripeapi.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripeapi.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}
	}

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", mapError(err)
	}
	if s.URL == "" {
		return "", fmt.Errorf("%w: checkout url missing", provider.ErrMalformedResponse)
	}
	return s.URL, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, req provider.PortalRequest) (string, error) {
	if req.ProviderCustomerID == "" {
		return "", &provider.RequestError{Provider: Name, StatusCode: 404, Detail: "no stripe customer is linked to this user yet"}
	}

	params := &stripeapi.BillingPortalSessionParams{
		Customer: stripeapi.String(req.ProviderCustomerID),
	}
	params.Context = ctx
	if c.cfg.PortalReturnURL != "" {
		params.ReturnURL = stripeapi.String(c.cfg.PortalReturnURL)
	}

	s, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", mapError(err)
	}
	if s.URL == "" {
		return "", fmt.Errorf("%w: portal url missing", provider.ErrMalformedResponse)
	}
	return s.URL, nil
}

// CreateRefund refunds part of a payment intent. The idempotency key is
// derived from the order and amount, so a retried call cannot refund twice.
func (c *Client) CreateRefund(ctx context.Context, req provider.RefundRequest) (*provider.Refund, error) {
	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(req.ProviderOrderID),
		Amount:        stripeapi.Int64(req.Amount.Amount),
		Reason:        stripeapi.String(string(stripeapi.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(RefundIdempotencyKey(req.ProviderOrderID, req.Amount.Amount))
	params.AddMetadata("reason", reasonOrDefault(req.Reason))

	r, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	return &provider.Refund{ID: r.ID, Status: string(r.Status)}, nil
}

// RefundIdempotencyKey is a SHA-1 namespace UUID over order id and amount.
func RefundIdempotencyKey(orderID string, amount int64) string {
	return uuid.NewSHA1(refundNamespace, []byte(orderID+":"+strconv.FormatInt(amount, 10))).String()
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return provider.DefaultRefundReason
	}
	return reason
}

func mapError(err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != 429 {
			detail := se.Msg
			if detail == "" {
				detail = string(se.Code)
			}
			return &provider.RequestError{Provider: Name, StatusCode: se.HTTPStatusCode, Detail: detail}
		}
		return fmt.Errorf("%w: stripe returned %d: %s", provider.ErrUnavailable, se.HTTPStatusCode, se.Msg)
	}
	return fmt.Errorf("%w: %w", provider.ErrUnavailable, err)
}
