package stripe

import (
	"encoding/json"
	"fmt"

	stripeapi "github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"

	"github.com/xraph/tally/webhook"
)

// Stripe event types translated into engine events.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventChargeRefunded    = "charge.refunded"
)

// ParseWebhook verifies a Stripe-Signature header and translates the event
// into an envelope for Tally.ProcessEvent. Completed checkouts become
// order.paid, refunded charges become order.refunded. Anything else keeps
// its Stripe type and is recorded and acknowledged without effect.
func (c *Client) ParseWebhook(body []byte, signature string) (*webhook.Envelope, error) {
	if c.cfg.WebhookSecret == "" {
		return nil, webhook.ErrSecretNotConfigured
	}

	event, err := stripewebhook.ConstructEventWithOptions(body, signature, c.cfg.WebhookSecret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", webhook.ErrInvalidSignature, err)
	}

	var (
		eventType = string(event.Type)
		data      map[string]any
	)
	switch eventType {
	case EventCheckoutCompleted:
		eventType = webhook.TypeOrderPaid
		data, err = checkoutData(event.Data.Raw)
	case EventChargeRefunded:
		eventType = webhook.TypeOrderRefunded
		data, err = refundData(event.Data.Raw)
	default:
		data = map[string]any{"id": event.ID}
	}
	if err != nil {
		return nil, err
	}

	return envelope(event.ID, eventType, data)
}

func checkoutData(raw json.RawMessage) (map[string]any, error) {
	var s stripeapi.CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %w", webhook.ErrInvalidPayload, err)
	}

	orderID := s.ID
	if s.PaymentIntent != nil && s.PaymentIntent.ID != "" {
		orderID = s.PaymentIntent.ID
	}
	userID := s.ClientReferenceID
	if userID == "" {
		userID = s.Metadata["user_id"]
	}

	data := map[string]any{
		"id":                   orderID,
		"customer_external_id": userID,
		"product_id":           s.Metadata["product_id"],
		"total_amount":         s.AmountTotal,
		"currency":             string(s.Currency),
	}
	if s.Customer != nil {
		data["customer_id"] = s.Customer.ID
	}
	if s.CustomerDetails != nil {
		data["customer"] = map[string]any{"email": s.CustomerDetails.Email}
	}
	if s.Subscription != nil {
		data["subscription_id"] = s.Subscription.ID
	}
	return data, nil
}

func refundData(raw json.RawMessage) (map[string]any, error) {
	var ch stripeapi.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("%w: charge: %w", webhook.ErrInvalidPayload, err)
	}

	data := map[string]any{"refunded_amount": ch.AmountRefunded}
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
		data["order_id"] = ch.PaymentIntent.ID
	}
	return data, nil
}

func envelope(eventID, eventType string, data map[string]any) (*webhook.Envelope, error) {
	encodedData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("stripe: encode event data: %w", err)
	}
	raw, err := json.Marshal(map[string]any{"id": eventID, "type": eventType, "data": json.RawMessage(encodedData)})
	if err != nil {
		return nil, fmt.Errorf("stripe: encode event: %w", err)
	}

	return &webhook.Envelope{EventID: eventID, Type: eventType, Data: encodedData, Raw: raw}, nil
}
