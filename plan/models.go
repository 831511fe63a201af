// Package plan describes what can be bought: recurring subscriptions that
// grant seconds each billing cycle, and one-off packs.
package plan

import (
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

type Type string

const (
	TypeSubscription Type = "subscription"
	TypePack         Type = "pack"
)

// Plan is a sellable product mirrored from the payment provider.
type Plan struct {
	types.Entity
	ID                 id.PlanID   `json:"id"`
	Code               string      `json:"plan_code"`
	Name               string      `json:"name"`
	Type               Type        `json:"plan_type"`
	ProviderProductID  string      `json:"provider_product_id,omitempty"`
	Price              types.Money `json:"price"`
	BillingInterval    string      `json:"billing_interval,omitempty"`
	Version            int         `json:"version"`
	QuotaSeconds       int64       `json:"quota_seconds"`
	RolloverCapSeconds int64       `json:"rollover_cap_seconds"`
	PackExpiryDays     int         `json:"pack_expiry_days"`
	Active             bool        `json:"is_active"`
}

// IsPack reports whether p is a one-off pack.
func (p *Plan) IsPack() bool { return p.Type == TypePack }
