package tally

import (
	"context"
	"fmt"

	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/id"
)

// ──────────────────────────────────────────────────
// Debt
// ──────────────────────────────────────────────────

// AdjustDebt adds delta (which may be negative) to the user's debt,
// flooring at zero, and recomputes the blocked flag against the debt cap.
// It returns the debt after the change.
func (t *Tally) AdjustDebt(ctx context.Context, userID string, delta int64) (int64, error) {
	if err := t.store.EnsureSnapshot(ctx, userID); err != nil {
		return 0, fmt.Errorf("tally: ensure snapshot: %w", err)
	}

	for range maxAttempts {
		snap, err := t.store.GetSnapshot(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("tally: read debt: %w", err)
		}
		current := snap.DebtSeconds
		if delta == 0 {
			return current, nil
		}

		next := max(current+delta, 0)
		blocked := entitlement.Blocked(next, t.debtCap)

		ok, err := t.store.CompareAndSwapDebt(ctx, userID, current, next, blocked, t.now())
		if err != nil {
			return 0, fmt.Errorf("tally: adjust debt: %w", err)
		}
		if ok {
			if next != current {
				t.logger.Info("debt adjusted",
					"user_id", userID,
					"before", current,
					"after", next,
					"blocked", blocked,
				)
				t.invalidateSnapshot(ctx, userID)
				t.plugins.EmitDebtChanged(ctx, userID, current, next, blocked)
			}
			return next, nil
		}
	}

	return 0, ErrConcurrencyExhausted
}

// CurrentDebt returns the user's debt in seconds, zero when no snapshot
// exists yet.
func (t *Tally) CurrentDebt(ctx context.Context, userID string) (int64, error) {
	snap, err := t.store.GetSnapshot(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("tally: read debt: %w", err)
	}
	return snap.DebtSeconds, nil
}

// payDownDebt offsets outstanding debt from a freshly granted lot before
// the lot is used for anything else. It returns the debt afterwards.
func (t *Tally) payDownDebt(ctx context.Context, userID string, lotID id.LotID) (int64, error) {
	debt, err := t.CurrentDebt(ctx, userID)
	if err != nil || debt <= 0 {
		return debt, err
	}

	consumed, err := t.ConsumeLot(ctx, lotID, debt)
	if err != nil {
		return debt, err
	}
	if consumed <= 0 {
		return debt, nil
	}

	return t.AdjustDebt(ctx, userID, -consumed)
}
