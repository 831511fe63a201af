package tally

import (
	"context"
	"fmt"

	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/provider"
	"github.com/xraph/tally/types"
)

// RefundStatusPendingWebhook is reported once the provider accepted a
// refund; the order settles when the refund webhook arrives.
const RefundStatusPendingWebhook = "pending_webhook_confirmation"

// RefundResult describes an accepted refund request.
type RefundResult struct {
	ProviderOrderID  string      `json:"provider_order_id"`
	RefundID         string      `json:"refund_id,omitempty"`
	Amount           types.Money `json:"requested_refund_amount"`
	RemainingSeconds int64       `json:"remaining_seconds_before_refund"`
	Status           string      `json:"status"`
}

// RequestPackRefund refunds the unused share of a pack order. The order
// is held in refund_pending (and its lot left out of balances) until the
// provider's refund webhook settles it.
func (t *Tally) RequestPackRefund(ctx context.Context, providerOrderID, userID string) (*RefundResult, error) {
	if t.provider == nil {
		return nil, ConfigurationError{Setting: "provider", Message: ErrProviderNotConfigured.Error()}
	}

	o, err := t.store.GetOrderByProviderID(ctx, providerOrderID)
	if err != nil && !IsNotFound(err) {
		return nil, fmt.Errorf("tally: read order: %w", err)
	}
	if o == nil || o.UserID != userID {
		return nil, invalidBecause("order_id", ErrOrderNotFound, "pack order not found")
	}
	if !o.IsPack() {
		return nil, invalidBecause("order_id", ErrNotRefundable, "only pack orders can be refunded")
	}
	if err := refundableStatus(o.Status); err != nil {
		return nil, err
	}

	l, err := t.store.GetLotBySource(ctx, lot.TypePackOrder, o.ProviderOrderID)
	if err != nil {
		if IsNotFound(err) {
			return nil, invalidBecause("order_id", ErrNotRefundable, "pack credits not found for this order")
		}
		return nil, fmt.Errorf("tally: read pack lot: %w", err)
	}
	if l.GrantedSeconds <= 0 || !o.Paid.IsPositive() {
		return nil, invalidBecause("order_id", ErrNotRefundable, "order has nothing to refund")
	}

	remaining := l.Remaining()
	if remaining <= 0 {
		return nil, invalidBecause("order_id", ErrNotRefundable, "pack has no unused seconds left")
	}
	amount := o.Paid.Prorate(remaining, l.GrantedSeconds)
	if !amount.IsPositive() {
		return nil, invalidBecause("order_id", ErrNotRefundable, "refundable amount rounds to zero")
	}

	ok, err := t.store.TransitionOrderStatus(ctx, o.ProviderOrderID, order.StatusPaid, order.StatusRefundPending)
	if err != nil {
		return nil, fmt.Errorf("tally: mark refund pending: %w", err)
	}
	if !ok {
		// Lost to a concurrent request or webhook; report what won.
		current, err := t.store.GetOrderByProviderID(ctx, o.ProviderOrderID)
		if err != nil {
			return nil, fmt.Errorf("tally: read order: %w", err)
		}
		if err := refundableStatus(current.Status); err != nil {
			return nil, err
		}
		return nil, ErrConcurrencyExhausted
	}
	o.Status = order.StatusRefundPending

	if _, err := t.Sync(ctx, userID); err != nil {
		return nil, err
	}

	t.logger.Info("pack refund requested",
		"user_id", userID,
		"provider_order_id", o.ProviderOrderID,
		"remaining_seconds", remaining,
		"amount", amount.String(),
	)

	refund, err := t.provider.CreateRefund(ctx, provider.RefundRequest{
		ProviderOrderID: o.ProviderOrderID,
		Amount:          amount,
		Reason:          provider.DefaultRefundReason,
	})
	if err != nil {
		return nil, t.refundFailed(ctx, o, err)
	}

	t.plugins.EmitRefundRequested(ctx, o, amount, refund.ID)

	return &RefundResult{
		ProviderOrderID:  o.ProviderOrderID,
		RefundID:         refund.ID,
		Amount:           amount,
		RemainingSeconds: remaining,
		Status:           RefundStatusPendingWebhook,
	}, nil
}

// refundFailed maps a provider refusal. Only a clear rejection releases
// the order; anything ambiguous keeps it pending so a refund that did go
// through is never paired with usable credits.
func (t *Tally) refundFailed(ctx context.Context, o *order.Order, cause error) error {
	re, ok := provider.AsRequestError(cause)
	if !ok {
		t.logger.Error("refund request failed",
			"provider_order_id", o.ProviderOrderID,
			"error", cause,
		)
		return ExternalServiceError{Service: t.providerName, Message: "refund request failed", Err: cause}
	}

	if re.IsDuplicateRefund() {
		t.logger.Info("refund already exists at provider", "provider_order_id", o.ProviderOrderID)
		return invalidBecause("order_id", ErrRefundExists,
			"refund request already exists; wait for webhook confirmation")
	}

	if _, err := t.store.TransitionOrderStatus(ctx, o.ProviderOrderID, order.StatusRefundPending, order.StatusPaid); err != nil {
		return fmt.Errorf("tally: release refund pending: %w", err)
	}
	if _, err := t.Sync(ctx, o.UserID); err != nil {
		return err
	}

	t.logger.Warn("refund rejected by provider",
		"provider_order_id", o.ProviderOrderID,
		"status_code", re.StatusCode,
		"detail", re.Detail,
	)
	return invalidBecause("order_id", ErrNotRefundable, "refund rejected: "+re.Detail)
}

func refundableStatus(s order.Status) error {
	switch s {
	case order.StatusRefundPending:
		return invalidBecause("order_id", ErrRefundInProgress, "refund already in progress")
	case order.StatusRefunded:
		return invalidBecause("order_id", ErrAlreadyRefunded, "order has already been refunded")
	case order.StatusPaid:
		return nil
	default:
		return invalidBecause("order_id", ErrNotRefundable, fmt.Sprintf("order status %q is not refundable", s))
	}
}
