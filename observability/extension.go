// Package observability provides a metrics plugin for tally that counts
// balance, refund and webhook lifecycle events through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/usage"
	"github.com/xraph/tally/webhook"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin             = (*MetricsExtension)(nil)
	_ plugin.OnInit             = (*MetricsExtension)(nil)
	_ plugin.OnLotGranted       = (*MetricsExtension)(nil)
	_ plugin.OnLotRevoked       = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded    = (*MetricsExtension)(nil)
	_ plugin.OnDebtChanged      = (*MetricsExtension)(nil)
	_ plugin.OnSnapshotSynced   = (*MetricsExtension)(nil)
	_ plugin.OnRefundRequested  = (*MetricsExtension)(nil)
	_ plugin.OnOrderRefunded    = (*MetricsExtension)(nil)
	_ plugin.OnWebhookProcessed = (*MetricsExtension)(nil)
	_ plugin.OnWebhookFailed    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records engine-wide lifecycle metrics.
// Register it with tally.WithPlugin.
type MetricsExtension struct {
	factory MetricFactory

	// Lot metrics
	SubscriptionLotsGranted Counter
	PackLotsGranted         Counter
	SecondsGranted          Counter
	LotsRevoked             Counter
	SecondsRevoked          Counter

	// Usage metrics
	UsageRecorded      Counter
	SecondsConsumed    Counter
	SecondsUnmet       Counter
	UsageEntriesPerJob Histogram

	// Debt metrics
	DebtIncreased Counter
	DebtRepaid    Counter
	UsersBlocked  Counter

	// Snapshot metrics
	SnapshotsSynced Counter

	// Refund metrics
	RefundsRequested  Counter
	RefundAmountCents Histogram
	OrdersRefunded    Counter

	// Webhook metrics
	WebhooksProcessed Counter
	WebhooksFailed    Counter
	WebhookAttempts   Histogram
	WebhookLatency    Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// See NewPrometheusFactory and NewOTelFactory for ready-made factories.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Lot metrics
		SubscriptionLotsGranted: factory.Counter("tally.lot.subscription.granted"),
		PackLotsGranted:         factory.Counter("tally.lot.pack.granted"),
		SecondsGranted:          factory.Counter("tally.lot.seconds.granted"),
		LotsRevoked:             factory.Counter("tally.lot.revoked"),
		SecondsRevoked:          factory.Counter("tally.lot.seconds.revoked"),

		// Usage metrics
		UsageRecorded:      factory.Counter("tally.usage.recorded"),
		SecondsConsumed:    factory.Counter("tally.usage.seconds.consumed"),
		SecondsUnmet:       factory.Counter("tally.usage.seconds.unmet"),
		UsageEntriesPerJob: factory.Histogram("tally.usage.entries_per_job"),

		// Debt metrics
		DebtIncreased: factory.Counter("tally.debt.increased"),
		DebtRepaid:    factory.Counter("tally.debt.repaid"),
		UsersBlocked:  factory.Counter("tally.debt.blocked"),

		// Snapshot metrics
		SnapshotsSynced: factory.Counter("tally.snapshot.synced"),

		// Refund metrics
		RefundsRequested:  factory.Counter("tally.refund.requested"),
		RefundAmountCents: factory.Histogram("tally.refund.amount_cents"),
		OrdersRefunded:    factory.Counter("tally.order.refunded"),

		// Webhook metrics
		WebhooksProcessed: factory.Counter("tally.webhook.processed"),
		WebhooksFailed:    factory.Counter("tally.webhook.failed"),
		WebhookAttempts:   factory.Histogram("tally.webhook.attempts"),
		WebhookLatency:    factory.Histogram("tally.webhook.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnLotGranted implements plugin.OnLotGranted.
func (m *MetricsExtension) OnLotGranted(_ context.Context, l *lot.Lot) error {
	if l.Type == lot.TypePackOrder {
		m.PackLotsGranted.Inc()
	} else {
		m.SubscriptionLotsGranted.Inc()
	}
	m.SecondsGranted.Add(float64(l.GrantedSeconds))
	return nil
}

// OnLotRevoked implements plugin.OnLotRevoked.
func (m *MetricsExtension) OnLotRevoked(_ context.Context, _ string, revokedSeconds int64) error {
	m.LotsRevoked.Inc()
	m.SecondsRevoked.Add(float64(revokedSeconds))
	return nil
}

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, _ string, entries []*usage.Entry, unmetSeconds int64) error {
	m.UsageRecorded.Inc()

	var consumed int64
	for _, e := range entries {
		consumed += e.SecondsUsed
	}
	m.SecondsConsumed.Add(float64(consumed))
	m.UsageEntriesPerJob.Observe(float64(len(entries)))

	if unmetSeconds > 0 {
		m.SecondsUnmet.Add(float64(unmetSeconds))
	}
	return nil
}

// OnDebtChanged implements plugin.OnDebtChanged.
func (m *MetricsExtension) OnDebtChanged(_ context.Context, _ string, before, after int64, blocked bool) error {
	switch {
	case after > before:
		m.DebtIncreased.Inc()
	case after < before:
		m.DebtRepaid.Inc()
	}
	if blocked {
		m.UsersBlocked.Inc()
	}
	return nil
}

// OnSnapshotSynced implements plugin.OnSnapshotSynced.
func (m *MetricsExtension) OnSnapshotSynced(_ context.Context, _ *entitlement.Snapshot) error {
	m.SnapshotsSynced.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Refund hooks
// ──────────────────────────────────────────────────

// OnRefundRequested implements plugin.OnRefundRequested.
func (m *MetricsExtension) OnRefundRequested(_ context.Context, _ *order.Order, amount types.Money, _ string) error {
	m.RefundsRequested.Inc()
	m.RefundAmountCents.Observe(float64(amount.Amount))
	return nil
}

// OnOrderRefunded implements plugin.OnOrderRefunded.
func (m *MetricsExtension) OnOrderRefunded(_ context.Context, _ *order.Order) error {
	m.OrdersRefunded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (m *MetricsExtension) OnWebhookProcessed(_ context.Context, e *webhook.Event, elapsed time.Duration) error {
	m.WebhooksProcessed.Inc()
	m.WebhookAttempts.Observe(float64(e.Attempts))
	m.WebhookLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnWebhookFailed implements plugin.OnWebhookFailed.
func (m *MetricsExtension) OnWebhookFailed(_ context.Context, _ *webhook.Event, _ error) error {
	m.WebhooksFailed.Inc()
	return nil
}
