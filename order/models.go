// Package order models paid provider orders and their refund state.
package order

import (
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

// Status moves paid -> refund_pending -> refunded, or back from
// refund_pending to paid when the provider clearly rejects a refund.
type Status string

const (
	StatusPaid          Status = "paid"
	StatusRefundPending Status = "refund_pending"
	StatusRefunded      Status = "refunded"
)

type Order struct {
	types.Entity
	ID                     id.OrderID  `json:"id"`
	ProviderOrderID        string      `json:"provider_order_id"`
	UserID                 string      `json:"user_id"`
	PlanID                 id.PlanID   `json:"plan_id"`
	PlanType               plan.Type   `json:"plan_type"`
	ProviderProductID      string      `json:"provider_product_id,omitempty"`
	ProviderSubscriptionID string      `json:"provider_subscription_id,omitempty"`
	Paid                   types.Money `json:"paid"`
	Refunded               types.Money `json:"refunded"`
	Status                 Status      `json:"status"`
}

// IsPack reports whether the order bought a one-off pack.
func (o *Order) IsPack() bool { return o.PlanType == plan.TypePack }
