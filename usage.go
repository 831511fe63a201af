package tally

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/usage"
)

// DefaultHistoryLimit is used by GetUsageHistory when limit is not positive.
const DefaultHistoryLimit = 50

// UsageOverview is the user-facing balance summary.
type UsageOverview struct {
	SubscriptionPlanName         string     `json:"subscription_plan_name,omitempty"`
	SubscriptionRemainingSeconds int64      `json:"subscription_remaining_seconds"`
	PackRemainingSeconds         int64      `json:"pack_remaining_seconds"`
	TotalRemainingSeconds        int64      `json:"total_remaining_seconds"`
	PackExpiresAt                *time.Time `json:"pack_expires_at,omitempty"`
	DebtSeconds                  int64      `json:"debt_seconds"`
	IsBlocked                    bool       `json:"is_blocked"`
}

// RecordUsage charges durationSeconds of usage for a job: subscription lots
// first, then pack lots (except packs with a refund in flight). Each source
// gets its own ledger entry and any shortfall becomes debt.
func (t *Tally) RecordUsage(ctx context.Context, userID, jobID string, durationSeconds int64) error {
	if durationSeconds <= 0 {
		t.logger.Debug("usage ignored", "user_id", userID, "job_id", jobID, "seconds", durationSeconds)
		return nil
	}
	if userID == "" {
		return invalid("user_id", "is required")
	}

	if _, err := t.ensureEntitlement(ctx, userID); err != nil {
		return err
	}

	var entries []*usage.Entry
	remaining := durationSeconds

	fromSubscription, err := t.Consume(ctx, userID, lot.TypeSubscriptionCycle, remaining)
	if err != nil {
		return err
	}
	if fromSubscription > 0 {
		e, err := t.appendUsage(ctx, userID, jobID, fromSubscription, usage.SourceSubscription)
		if err != nil {
			return err
		}
		entries = append(entries, e)
		remaining -= fromSubscription
	}

	if remaining > 0 {
		frozen, err := t.store.ListProviderOrderIDs(ctx, userID, order.StatusRefundPending)
		if err != nil {
			return fmt.Errorf("tally: list refund pending orders: %w", err)
		}
		fromPack, err := t.Consume(ctx, userID, lot.TypePackOrder, remaining, frozen...)
		if err != nil {
			return err
		}
		if fromPack > 0 {
			e, err := t.appendUsage(ctx, userID, jobID, fromPack, usage.SourcePack)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			remaining -= fromPack
		}
	}

	if remaining > 0 {
		if _, err := t.AdjustDebt(ctx, userID, remaining); err != nil {
			return err
		}
	}

	t.logger.Info("usage recorded",
		"user_id", userID,
		"job_id", jobID,
		"seconds", durationSeconds,
		"unmet_seconds", remaining,
	)
	t.plugins.EmitUsageRecorded(ctx, userID, entries, remaining)

	_, err = t.Sync(ctx, userID)
	return err
}

func (t *Tally) appendUsage(ctx context.Context, userID, jobID string, seconds int64, src usage.Source) (*usage.Entry, error) {
	e := &usage.Entry{
		ID:          id.NewUsageID(),
		UserID:      userID,
		JobID:       jobID,
		SecondsUsed: seconds,
		Source:      src,
		CreatedAt:   t.now(),
	}
	if err := t.store.InsertUsageEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("tally: insert usage entry: %w", err)
	}
	return e, nil
}

// EnsureUsageAllowed rejects a job before it starts when the user is
// blocked or cannot cover it. projectedSeconds <= 0 means the job length is
// unknown.
func (t *Tally) EnsureUsageAllowed(ctx context.Context, userID string, projectedSeconds int64) error {
	snap, err := t.ensureEntitlement(ctx, userID)
	if err != nil {
		return err
	}

	available := snap.AvailableSeconds()
	switch {
	case snap.IsBlocked:
		return invalidBecause("user_id", ErrUsageBlocked,
			"account temporarily blocked due to negative balance; purchase more credits to continue")
	case projectedSeconds > 0:
		shortfall := max(projectedSeconds-available, 0)
		if snap.DebtSeconds+shortfall > t.debtCap {
			return invalidBecause("projected_seconds", ErrInsufficientCredit,
				"insufficient credits for this job; purchase more credits to continue")
		}
	case available <= 0 && snap.DebtSeconds >= t.debtCap:
		return invalidBecause("user_id", ErrNoCredit,
			"no remaining credits; purchase more credits to continue")
	}

	return nil
}

// GetUsageOverview returns the user's current balance summary.
func (t *Tally) GetUsageOverview(ctx context.Context, userID string) (*UsageOverview, error) {
	snap, err := t.ensureEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}

	ov := &UsageOverview{
		SubscriptionRemainingSeconds: snap.SubscriptionAvailableSeconds,
		PackRemainingSeconds:         snap.PackAvailableSeconds,
		TotalRemainingSeconds:        snap.AvailableSeconds(),
		PackExpiresAt:                snap.PackExpiresAt,
		DebtSeconds:                  snap.DebtSeconds,
		IsBlocked:                    snap.IsBlocked,
	}

	// Plan name is cosmetic; failures leave it empty.
	if state, err := t.store.GetSubscriptionState(ctx, userID); err == nil && !state.PlanID.IsNil() {
		if p, err := t.store.GetPlan(ctx, state.PlanID); err == nil {
			ov.SubscriptionPlanName = p.Name
		}
	}

	return ov, nil
}

// GetUsageHistory lists the user's usage entries, newest first.
func (t *Tally) GetUsageHistory(ctx context.Context, userID string, limit int) ([]*usage.Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return t.store.ListUsageEntries(ctx, userID, usage.ListOpts{Limit: limit})
}

// ensureEntitlement returns the user's snapshot, bootstrapping new users
// with the free plan grant (when one is configured) on first contact.
func (t *Tally) ensureEntitlement(ctx context.Context, userID string) (*entitlement.Snapshot, error) {
	snap, err := t.GetSnapshot(ctx, userID)
	if err == nil {
		return snap, nil
	}
	if !IsNotFound(err) {
		return nil, fmt.Errorf("tally: read snapshot: %w", err)
	}

	if err := t.grantFreeEntitlement(ctx, userID); err != nil {
		return nil, err
	}
	return t.Sync(ctx, userID)
}

func (t *Tally) grantFreeEntitlement(ctx context.Context, userID string) error {
	if t.freePlanProductID == "" {
		return nil
	}

	p, err := t.store.GetPlanByProductID(ctx, t.freePlanProductID)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("tally: read free plan: %w", err)
	}

	now := t.now()
	end := now.AddDate(0, 0, t.freeGrantDays)
	l, _, err := t.GrantLot(ctx, &lot.Lot{
		UserID:         userID,
		PlanID:         p.ID,
		Type:           lot.TypeSubscriptionCycle,
		SourceKey:      freeSourceKey(t.freePlanProductID, userID, now),
		GrantedSeconds: p.QuotaSeconds,
		ExpiresAt:      &end,
	})
	if err != nil {
		return err
	}

	return t.store.UpsertSubscriptionState(ctx, &subscription.State{
		UserID:            userID,
		PlanID:            p.ID,
		Status:            "active",
		PeriodStart:       &now,
		PeriodEnd:         l.ExpiresAt,
		CycleGrantSeconds: p.QuotaSeconds,
		AvailableSeconds:  l.Remaining(),
		UpdatedAt:         now,
	})
}

// freeSourceKey scopes a free grant to one user and one day. Lot source
// keys are unique per lot type across all users.
func freeSourceKey(productID, userID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", productID, userID, day.Format(time.DateOnly))
}

// freePlan reports whether p is the configured free plan.
func (t *Tally) freePlan(p *plan.Plan) bool {
	return t.freePlanProductID != "" && p.ProviderProductID == t.freePlanProductID
}
