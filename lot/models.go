// Package lot models credit lots: discrete grants of metered seconds that
// are consumed, expired or revoked but never deleted.
package lot

import (
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Type distinguishes where a lot's seconds came from.
type Type string

const (
	TypeSubscriptionCycle Type = "subscription_cycle"
	TypePackOrder         Type = "pack_order"
)

// Status is the lifecycle state of a lot. Only active lots can be consumed.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Lot is a grant of seconds. (Type, SourceKey) is unique: for a pack it is
// the provider order id, for a subscription cycle the "<subscription>:<period
// start>" key.
type Lot struct {
	types.Entity
	ID              id.LotID   `json:"id"`
	UserID          string     `json:"user_id"`
	PlanID          id.PlanID  `json:"plan_id"`
	Type            Type       `json:"lot_type"`
	SourceKey       string     `json:"source_key"`
	GrantedSeconds  int64      `json:"granted_seconds"`
	ConsumedSeconds int64      `json:"consumed_seconds"`
	RevokedSeconds  int64      `json:"revoked_seconds"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Status          Status     `json:"status"`
}

// Remaining is max(granted - consumed - revoked, 0).
func (l *Lot) Remaining() int64 {
	r := l.GrantedSeconds - l.ConsumedSeconds - l.RevokedSeconds
	if r < 0 {
		return 0
	}
	return r
}

// IsExpiredAt reports whether the lot's expiry is at or before now.
// Lots without an expiry never expire.
func (l *Lot) IsExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Expect is the version a conditional update is guarded on.
type Expect struct {
	ConsumedSeconds int64
	RevokedSeconds  int64
	Status          Status
}

// ExpectOf captures l's current version.
func ExpectOf(l *Lot) Expect {
	return Expect{ConsumedSeconds: l.ConsumedSeconds, RevokedSeconds: l.RevokedSeconds, Status: l.Status}
}

// Change holds the new values written by a conditional update.
type Change struct {
	ConsumedSeconds int64
	RevokedSeconds  int64
	Status          Status
}
