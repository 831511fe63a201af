// Package entitlement holds the per-user snapshot of spendable seconds.
// The snapshot is derived: it is rebuilt from active lots and current debt
// after every mutation and is never the source of truth for balances.
package entitlement

import "time"

type Snapshot struct {
	UserID                       string     `json:"user_id"`
	SubscriptionAvailableSeconds int64      `json:"subscription_available_seconds"`
	PackAvailableSeconds         int64      `json:"pack_available_seconds"`
	PackExpiresAt                *time.Time `json:"pack_expires_at,omitempty"`
	DebtSeconds                  int64      `json:"debt_seconds"`
	IsBlocked                    bool       `json:"is_blocked"`
	LastSyncAt                   *time.Time `json:"last_sync_at,omitempty"`
	UpdatedAt                    time.Time  `json:"updated_at"`
}

// AvailableSeconds is the subscription plus pack balance.
func (s *Snapshot) AvailableSeconds() int64 {
	return s.SubscriptionAvailableSeconds + s.PackAvailableSeconds
}

// Blocked reports whether debt has reached the cap.
func Blocked(debt, capSeconds int64) bool {
	return debt >= capSeconds
}
