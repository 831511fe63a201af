package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/tally/subscription"
)

// Event types the engine acts on.
const (
	TypeOrderPaid            = "order.paid"
	TypeOrderRefunded        = "order.refunded"
	TypeSubscriptionRevoked  = "subscription.revoked"
	TypeCustomerCreated      = "customer.created"
	TypeCustomerStateChanged = "customer.state_changed"
)

func isSubscriptionType(t string) bool {
	switch t {
	case "subscription.created", "subscription.active", "subscription.uncanceled",
		"subscription.canceled", "subscription.past_due", "subscription.updated",
		TypeSubscriptionRevoked:
		return true
	default:
		return false
	}
}

// Envelope is a verified delivery before its data is interpreted.
type Envelope struct {
	EventID string
	Type    string
	Data    json.RawMessage
	Raw     json.RawMessage
}

// ParseEnvelope extracts id, type and data from a delivery body. The id
// comes from the webhook-id header when present, else the body's "id".
func ParseEnvelope(body []byte, h http.Header) (*Envelope, error) {
	root := objectOf(body)
	if root == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrInvalidPayload)
	}

	env := &Envelope{
		EventID: h.Get(HeaderID),
		Type:    root.str("type"),
		Data:    root["data"],
		Raw:     json.RawMessage(body),
	}
	if env.EventID == "" {
		env.EventID = root.str("id")
	}

	if env.EventID == "" || env.Type == "" || objectOf(env.Data) == nil {
		return nil, fmt.Errorf("%w: missing id, type or data", ErrInvalidPayload)
	}

	return env, nil
}

// Payload is one of OrderPaid, OrderRefunded, SubscriptionChanged,
// CustomerChanged or Unhandled.
type Payload interface {
	EventType() string
	sealed()
}

type OrderPaid struct {
	ProviderOrderID        string `validate:"required"`
	UserID                 string `validate:"required"`
	ProductID              string `validate:"required"`
	ProviderCustomerID     string
	CustomerEmail          string
	ProviderSubscriptionID string
	PaidCents              int64 `validate:"gte=0"`
	Currency               string
}

type OrderRefunded struct {
	// CandidateOrderIDs are tried in order against stored orders.
	CandidateOrderIDs []string `validate:"min=1,dive,required"`
	// TotalRefundedCents is the provider's order-level refunded total, if sent.
	TotalRefundedCents *int64
	// DeltaCents is used only when no total is present.
	DeltaCents int64 `validate:"gte=0"`
}

type SubscriptionChanged struct {
	Type                   string `validate:"required"`
	UserID                 string `validate:"required"`
	ProductID              string `validate:"required"`
	ProviderSubscriptionID string
	ProviderCustomerID     string
	Status                 string `validate:"required"`
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
}

// Ends reports whether the event ends the subscription's entitlement.
func (s *SubscriptionChanged) Ends() bool {
	return s.Type == TypeSubscriptionRevoked || subscription.Terminal(s.Status)
}

// CycleKey identifies the billing cycle: "<subscription>:<period start>",
// falling back to "user:<id>" when the provider sent no subscription id.
// It is empty when the period is unknown.
func (s *SubscriptionChanged) CycleKey() string {
	if s.PeriodStart == nil || s.PeriodEnd == nil {
		return ""
	}
	key := s.ProviderSubscriptionID
	if key == "" {
		key = "user:" + s.UserID
	}
	return key + ":" + s.PeriodStart.UTC().Format(time.RFC3339)
}

// CustomerChanged carries no validation tag on ExternalID: customers
// without one are ignored, not rejected.
type CustomerChanged struct {
	Type               string
	ExternalID         string
	ProviderCustomerID string
	Email              string
	Country            string
}

type Unhandled struct {
	Type string
}

func (p *OrderPaid) EventType() string           { return TypeOrderPaid }
func (p *OrderRefunded) EventType() string       { return TypeOrderRefunded }
func (p *SubscriptionChanged) EventType() string { return p.Type }
func (p *CustomerChanged) EventType() string     { return p.Type }
func (p *Unhandled) EventType() string           { return p.Type }

func (*OrderPaid) sealed()           {}
func (*OrderRefunded) sealed()       {}
func (*SubscriptionChanged) sealed() {}
func (*CustomerChanged) sealed()     {}
func (*Unhandled) sealed()           {}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode interprets env.Data once according to env.Type and validates it.
func Decode(env *Envelope) (Payload, error) {
	data := objectOf(env.Data)
	if data == nil {
		return nil, fmt.Errorf("%w: data is not an object", ErrInvalidPayload)
	}

	var p Payload
	switch {
	case env.Type == TypeOrderPaid:
		p = decodeOrderPaid(data)
	case env.Type == TypeOrderRefunded:
		p = decodeOrderRefunded(data)
	case isSubscriptionType(env.Type):
		p = decodeSubscription(env.Type, data)
	case env.Type == TypeCustomerCreated || env.Type == TypeCustomerStateChanged:
		return decodeCustomer(env.Type, data), nil
	default:
		return &Unhandled{Type: env.Type}, nil
	}

	if err := validate.Struct(p); err != nil {
		return nil, describe(env.Type, err)
	}
	return p, nil
}

func decodeOrderPaid(d fields) *OrderPaid {
	return &OrderPaid{
		ProviderOrderID:        d.str("id"),
		UserID:                 d.userID(),
		ProductID:              d.productID(),
		ProviderCustomerID:     d.str("customer_id"),
		CustomerEmail:          d.obj("customer").str("email"),
		ProviderSubscriptionID: d.str("subscription_id"),
		PaidCents:              d.amount("total_amount", "net_amount", "amount"),
		Currency:               strings.ToLower(d.str("currency")),
	}
}

func decodeOrderRefunded(d fields) *OrderRefunded {
	p := &OrderRefunded{
		DeltaCents: d.amount("refund_amount", "amount"),
	}
	for _, candidate := range []string{d.str("order_id"), d.str("id"), d.obj("order").str("id")} {
		if candidate != "" {
			p.CandidateOrderIDs = append(p.CandidateOrderIDs, candidate)
		}
	}
	for _, key := range []string{"refunded_amount", "total_refunded_amount"} {
		if n, ok := d.int(key); ok {
			total := max(n, 0)
			p.TotalRefundedCents = &total
			break
		}
	}
	return p
}

func decodeSubscription(eventType string, d fields) *SubscriptionChanged {
	status := d.str("status")
	if status == "" {
		status = "unknown"
	}
	return &SubscriptionChanged{
		Type:                   eventType,
		UserID:                 d.userID(),
		ProductID:              d.productID(),
		ProviderSubscriptionID: d.firstStr("id", "subscription_id"),
		ProviderCustomerID:     d.str("customer_id"),
		Status:                 status,
		PeriodStart:            d.time("current_period_start"),
		PeriodEnd:              d.time("current_period_end"),
	}
}

func decodeCustomer(eventType string, d fields) *CustomerChanged {
	return &CustomerChanged{
		Type:               eventType,
		ExternalID:         d.str("external_id"),
		ProviderCustomerID: d.str("id"),
		Email:              d.str("email"),
		Country:            d.obj("billing_address").str("country"),
	}
}

func describe(eventType string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}

	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s payload is missing or has invalid %s", ErrInvalidPayload, eventType, strings.Join(names, ", "))
}
