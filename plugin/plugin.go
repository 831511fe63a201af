// Package plugin lets embedding applications observe the entitlement
// engine. Hooks run after the state change they describe has been
// persisted; a failing or slow hook is logged and never affects the
// operation that triggered it.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/usage"
	"github.com/xraph/tally/webhook"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called from Start. engine is the *tally.Tally.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnLotGranted is called when a new credit lot is created.
type OnLotGranted interface {
	Plugin
	OnLotGranted(ctx context.Context, l *lot.Lot) error
}

// OnLotRevoked is called when a lot's remaining seconds are revoked.
type OnLotRevoked interface {
	Plugin
	OnLotRevoked(ctx context.Context, lotID string, revokedSeconds int64) error
}

// OnUsageRecorded receives the ledger entries written for one job and the
// seconds that could not be covered and became debt.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, userID string, entries []*usage.Entry, unmetSeconds int64) error
}

type OnDebtChanged interface {
	Plugin
	OnDebtChanged(ctx context.Context, userID string, before, after int64, blocked bool) error
}

type OnSnapshotSynced interface {
	Plugin
	OnSnapshotSynced(ctx context.Context, s *entitlement.Snapshot) error
}

// ──────────────────────────────────────────────────
// Refund hooks
// ──────────────────────────────────────────────────

// OnRefundRequested is called once the provider accepted a refund request.
type OnRefundRequested interface {
	Plugin
	OnRefundRequested(ctx context.Context, o *order.Order, amount types.Money, refundID string) error
}

// OnOrderRefunded is called when a refund webhook marks an order refunded.
type OnOrderRefunded interface {
	Plugin
	OnOrderRefunded(ctx context.Context, o *order.Order) error
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

type OnWebhookProcessed interface {
	Plugin
	OnWebhookProcessed(ctx context.Context, e *webhook.Event, elapsed time.Duration) error
}

type OnWebhookFailed interface {
	Plugin
	OnWebhookFailed(ctx context.Context, e *webhook.Event, err error) error
}
