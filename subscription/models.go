// Package subscription mirrors the provider's view of a user's recurring
// subscription together with the seconds granted for the current cycle.
package subscription

import (
	"time"

	"github.com/xraph/tally/id"
)

// Provider statuses that end a subscription's entitlement.
const (
	StatusRevoked  = "revoked"
	StatusEnded    = "ended"
	StatusInactive = "inactive"
	StatusUnknown  = "unknown"
)

// State is one row per user.
type State struct {
	UserID                 string     `json:"user_id"`
	PlanID                 id.PlanID  `json:"plan_id"`
	ProviderSubscriptionID string     `json:"provider_subscription_id,omitempty"`
	Status                 string     `json:"status"`
	PeriodStart            *time.Time `json:"period_start,omitempty"`
	PeriodEnd              *time.Time `json:"period_end,omitempty"`
	CycleGrantSeconds      int64      `json:"cycle_grant_seconds"`
	RolloverSeconds        int64      `json:"rollover_seconds"`
	AvailableSeconds       int64      `json:"available_seconds"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Terminal reports whether status ends the subscription's entitlement.
func Terminal(status string) bool {
	switch status {
	case StatusRevoked, StatusEnded, StatusInactive:
		return true
	default:
		return false
	}
}
