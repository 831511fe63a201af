package tally

import (
	"context"
	"fmt"

	"github.com/xraph/tally/customer"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/webhook"
)

// ──────────────────────────────────────────────────
// Webhook handlers
// ──────────────────────────────────────────────────

func (t *Tally) handleOrderPaid(ctx context.Context, p *webhook.OrderPaid) error {
	pl, err := t.planForProduct(ctx, p.ProductID)
	if err != nil {
		return err
	}

	currency := p.Currency
	if currency == "" {
		currency = pl.Price.Currency
	}

	o, created, err := t.store.InsertOrder(ctx, &order.Order{
		ID:                     id.NewOrderID(),
		Entity:                 types.NewEntity(t.now()),
		ProviderOrderID:        p.ProviderOrderID,
		UserID:                 p.UserID,
		PlanID:                 pl.ID,
		PlanType:               pl.Type,
		ProviderProductID:      p.ProductID,
		ProviderSubscriptionID: p.ProviderSubscriptionID,
		Paid:                   types.New(p.PaidCents, currency),
		Refunded:               types.Zero(currency),
		Status:                 order.StatusPaid,
	})
	if err != nil {
		return fmt.Errorf("tally: insert order: %w", err)
	}
	if created {
		t.logger.Info("order recorded",
			"user_id", o.UserID,
			"provider_order_id", o.ProviderOrderID,
			"plan_type", o.PlanType,
			"paid", o.Paid.String(),
		)
	}

	if err := t.upsertCustomer(ctx, &customer.Customer{
		UserID:             p.UserID,
		ExternalCustomerID: p.UserID,
		ProviderCustomerID: p.ProviderCustomerID,
		Email:              p.CustomerEmail,
	}); err != nil {
		return err
	}

	// Subscription orders are payment history only; cycles are granted
	// from subscription events.
	if pl.IsPack() {
		l, _, err := t.GrantLot(ctx, &lot.Lot{
			UserID:         p.UserID,
			PlanID:         pl.ID,
			Type:           lot.TypePackOrder,
			SourceKey:      p.ProviderOrderID,
			GrantedSeconds: pl.QuotaSeconds,
			ExpiresAt:      expiresIn(t.now(), pl.PackExpiryDays),
		})
		if err != nil {
			return err
		}
		// A replayed delivery still pays down debt so a crash between
		// grant and paydown recovers, but never from a pack whose refund
		// is in flight or done: that would shrink the refund basis.
		if o.Status == order.StatusPaid {
			if _, err := t.payDownDebt(ctx, p.UserID, l.ID); err != nil {
				return err
			}
		} else {
			t.logger.Info("skipping debt paydown for non-paid order",
				"user_id", p.UserID,
				"provider_order_id", o.ProviderOrderID,
				"status", o.Status,
			)
		}
	}

	_, err = t.Sync(ctx, p.UserID)
	return err
}

func (t *Tally) handleOrderRefunded(ctx context.Context, p *webhook.OrderRefunded) error {
	var o *order.Order
	for _, candidate := range p.CandidateOrderIDs {
		found, err := t.store.GetOrderByProviderID(ctx, candidate)
		if err == nil {
			o = found
			break
		}
		if !IsNotFound(err) {
			return fmt.Errorf("tally: read order %s: %w", candidate, err)
		}
	}
	if o == nil {
		// The paid event may not have been processed yet; failing makes
		// the provider redeliver later.
		return ExternalServiceError{
			Service: t.providerName,
			Message: fmt.Sprintf("refund references unknown order ids %v", p.CandidateOrderIDs),
		}
	}

	paid := o.Paid.Amount
	var refunded int64
	if p.TotalRefundedCents != nil {
		refunded = min(max(o.Refunded.Amount, *p.TotalRefundedCents), paid)
	} else {
		refunded = min(o.Refunded.Amount+p.DeltaCents, paid)
	}

	// Packs are refunded proportionally, so any refund completes them.
	// Other orders count as refunded only once fully covered.
	fullyRefunded := (o.IsPack() && refunded > 0) ||
		(!o.IsPack() && paid > 0 && refunded >= paid)

	status := o.Status
	if fullyRefunded {
		status = order.StatusRefunded
	}

	newRefunded := types.New(refunded, o.Paid.Currency)
	if err := t.store.UpdateOrderRefund(ctx, o.ProviderOrderID, status, newRefunded); err != nil {
		return fmt.Errorf("tally: update order refund: %w", err)
	}
	o.Status, o.Refunded = status, newRefunded

	t.logger.Info("order refund applied",
		"provider_order_id", o.ProviderOrderID,
		"status", status,
		"refunded", newRefunded.String(),
	)

	if o.IsPack() && fullyRefunded {
		l, err := t.store.GetLotBySource(ctx, lot.TypePackOrder, o.ProviderOrderID)
		switch {
		case err == nil:
			if _, err := t.RevokeRemaining(ctx, l.ID); err != nil {
				return err
			}
		case !IsNotFound(err):
			return fmt.Errorf("tally: read pack lot: %w", err)
		}
	}
	if fullyRefunded {
		t.plugins.EmitOrderRefunded(ctx, o)
	}

	if o.UserID == "" {
		return nil
	}
	_, err := t.Sync(ctx, o.UserID)
	return err
}

func (t *Tally) handleSubscriptionChanged(ctx context.Context, p *webhook.SubscriptionChanged) error {
	pl, err := t.planForProduct(ctx, p.ProductID)
	if err != nil {
		return err
	}

	var rollover int64
	if prev, err := t.store.GetSubscriptionState(ctx, p.UserID); err == nil {
		rollover = prev.RolloverSeconds
	} else if !IsNotFound(err) {
		return fmt.Errorf("tally: read subscription state: %w", err)
	}

	quota := pl.QuotaSeconds

	switch key := p.CycleKey(); {
	case p.Ends():
		rollover = 0
		if err := t.ExpireSubscriptionLots(ctx, p.UserID); err != nil {
			return err
		}

	case key != "":
		existing, err := t.store.GetLotBySource(ctx, lot.TypeSubscriptionCycle, key)
		if err == nil {
			rollover = max(existing.GrantedSeconds-quota, 0)
			break
		}
		if !IsNotFound(err) {
			return fmt.Errorf("tally: read cycle lot: %w", err)
		}

		// New cycle: carry over what is left of the old one, up to the cap.
		totals, err := t.summarizeLots(ctx, p.UserID)
		if err != nil {
			return err
		}
		rollover = min(totals.subscription, pl.RolloverCapSeconds)
		if err := t.ExpireSubscriptionLots(ctx, p.UserID); err != nil {
			return err
		}

		l, _, err := t.GrantLot(ctx, &lot.Lot{
			UserID:         p.UserID,
			PlanID:         pl.ID,
			Type:           lot.TypeSubscriptionCycle,
			SourceKey:      key,
			GrantedSeconds: quota + rollover,
			ExpiresAt:      p.PeriodEnd,
		})
		if err != nil {
			return err
		}
		// A replayed delivery still pays down debt so a crash between
		// grant and paydown recovers, but never from a pack whose refund
		// is in flight or done: that would shrink the refund basis.
		if o.Status == order.StatusPaid {
			if _, err := t.payDownDebt(ctx, p.UserID, l.ID); err != nil {
				return err
			}
		} else {
			t.logger.Info("skipping debt paydown for non-paid order",
				"user_id", p.UserID,
				"provider_order_id", o.ProviderOrderID,
				"status", o.Status,
			)
		}
	}

	if err := t.store.UpsertSubscriptionState(ctx, &subscription.State{
		UserID:                 p.UserID,
		PlanID:                 pl.ID,
		ProviderSubscriptionID: p.ProviderSubscriptionID,
		Status:                 p.Status,
		PeriodStart:            p.PeriodStart,
		PeriodEnd:              p.PeriodEnd,
		CycleGrantSeconds:      quota,
		RolloverSeconds:        rollover,
		AvailableSeconds:       max(quota+rollover, 0),
		UpdatedAt:              t.now(),
	}); err != nil {
		return fmt.Errorf("tally: upsert subscription state: %w", err)
	}

	if err := t.upsertCustomer(ctx, &customer.Customer{
		UserID:             p.UserID,
		ExternalCustomerID: p.UserID,
		ProviderCustomerID: p.ProviderCustomerID,
	}); err != nil {
		return err
	}

	_, err = t.Sync(ctx, p.UserID)
	return err
}

func (t *Tally) handleCustomerChanged(ctx context.Context, p *webhook.CustomerChanged) error {
	if p.ExternalID == "" {
		t.logger.Debug("customer event without external id ignored", "provider_customer_id", p.ProviderCustomerID)
		return nil
	}

	return t.upsertCustomer(ctx, &customer.Customer{
		UserID:             p.ExternalID,
		ExternalCustomerID: p.ExternalID,
		ProviderCustomerID: p.ProviderCustomerID,
		Email:              p.Email,
		Country:            p.Country,
	})
}

func (t *Tally) planForProduct(ctx context.Context, productID string) (*plan.Plan, error) {
	pl, err := t.store.GetPlanByProductID(ctx, productID)
	if err != nil {
		if IsNotFound(err) {
			return nil, invalidBecause("product_id", ErrPlanNotFound,
				fmt.Sprintf("no plan mapped to provider product %q", productID))
		}
		return nil, fmt.Errorf("tally: read plan: %w", err)
	}
	return pl, nil
}

func (t *Tally) upsertCustomer(ctx context.Context, c *customer.Customer) error {
	c.UpdatedAt = t.now()
	if err := t.store.UpsertCustomer(ctx, c); err != nil {
		return fmt.Errorf("tally: upsert customer: %w", err)
	}
	return nil
}
