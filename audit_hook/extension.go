// Package audithook bridges tally balance, refund and webhook events to an
// audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit library directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/usage"
	"github.com/xraph/tally/webhook"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnLotGranted       = (*Extension)(nil)
	_ plugin.OnLotRevoked       = (*Extension)(nil)
	_ plugin.OnUsageRecorded    = (*Extension)(nil)
	_ plugin.OnDebtChanged      = (*Extension)(nil)
	_ plugin.OnRefundRequested  = (*Extension)(nil)
	_ plugin.OnOrderRefunded    = (*Extension)(nil)
	_ plugin.OnWebhookProcessed = (*Extension)(nil)
	_ plugin.OnWebhookFailed    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges tally lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnLotGranted implements plugin.OnLotGranted.
func (e *Extension) OnLotGranted(ctx context.Context, l *lot.Lot) error {
	return e.record(ctx, ActionLotGranted, SeverityInfo, OutcomeSuccess,
		ResourceLot, l.ID.String(), CategoryBalance, nil,
		"user_id", l.UserID,
		"lot_type", string(l.Type),
		"source_key", l.SourceKey,
		"granted_seconds", l.GrantedSeconds,
	)
}

// OnLotRevoked implements plugin.OnLotRevoked.
func (e *Extension) OnLotRevoked(ctx context.Context, lotID string, revokedSeconds int64) error {
	return e.record(ctx, ActionLotRevoked, SeverityWarning, OutcomeSuccess,
		ResourceLot, lotID, CategoryBalance, nil,
		"revoked_seconds", revokedSeconds,
	)
}

// OnUsageRecorded implements plugin.OnUsageRecorded. A job whose seconds
// were only partly covered is recorded with a partial outcome.
func (e *Extension) OnUsageRecorded(ctx context.Context, userID string, entries []*usage.Entry, unmetSeconds int64) error {
	var consumed int64
	var jobID string
	for _, en := range entries {
		consumed += en.SecondsUsed
		if jobID == "" {
			jobID = en.JobID
		}
	}

	outcome := OutcomeSuccess
	if unmetSeconds > 0 {
		outcome = OutcomePartial
	}

	return e.record(ctx, ActionUsageRecorded, SeverityInfo, outcome,
		ResourceUsage, jobID, CategoryUsage, nil,
		"user_id", userID,
		"entries", len(entries),
		"consumed_seconds", consumed,
		"unmet_seconds", unmetSeconds,
	)
}

// OnDebtChanged implements plugin.OnDebtChanged. Crossing into the blocked
// state is recorded as its own action as well.
func (e *Extension) OnDebtChanged(ctx context.Context, userID string, before, after int64, blocked bool) error {
	if err := e.record(ctx, ActionDebtChanged, SeverityInfo, OutcomeSuccess,
		ResourceBalance, userID, CategoryBalance, nil,
		"debt_before", before,
		"debt_after", after,
	); err != nil {
		return err
	}

	if !blocked {
		return nil
	}
	return e.record(ctx, ActionUserBlocked, SeverityWarning, OutcomeFailure,
		ResourceBalance, userID, CategoryAccess, nil,
		"debt_seconds", after,
	)
}

// ──────────────────────────────────────────────────
// Refund hooks
// ──────────────────────────────────────────────────

// OnRefundRequested implements plugin.OnRefundRequested.
func (e *Extension) OnRefundRequested(ctx context.Context, o *order.Order, amount types.Money, refundID string) error {
	return e.record(ctx, ActionRefundRequested, SeverityWarning, OutcomeSuccess,
		ResourceOrder, o.ProviderOrderID, CategoryPayment, nil,
		"user_id", o.UserID,
		"refund_id", refundID,
		"amount", amount.String(),
	)
}

// OnOrderRefunded implements plugin.OnOrderRefunded.
func (e *Extension) OnOrderRefunded(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderRefunded, SeverityWarning, OutcomeSuccess,
		ResourceOrder, o.ProviderOrderID, CategoryPayment, nil,
		"user_id", o.UserID,
		"refunded", o.Refunded.String(),
		"status", string(o.Status),
	)
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (e *Extension) OnWebhookProcessed(ctx context.Context, ev *webhook.Event, elapsed time.Duration) error {
	return e.record(ctx, ActionWebhookProcessed, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, ev.EventID, CategoryIntegration, nil,
		"provider", ev.Provider,
		"event_type", ev.EventType,
		"attempts", ev.Attempts,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnWebhookFailed implements plugin.OnWebhookFailed.
func (e *Extension) OnWebhookFailed(ctx context.Context, ev *webhook.Event, cause error) error {
	return e.record(ctx, ActionWebhookFailed, SeverityError, OutcomeFailure,
		ResourceWebhook, ev.EventID, CategoryIntegration, cause,
		"provider", ev.Provider,
		"event_type", ev.EventType,
		"attempts", ev.Attempts,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
