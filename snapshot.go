package tally

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
)

// ──────────────────────────────────────────────────
// Snapshot sync
// ──────────────────────────────────────────────────

type lotTotals struct {
	subscription  int64
	pack          int64
	packExpiresAt *time.Time
}

// summarizeLots sums remaining seconds over active, unexpired lots,
// expiring stale ones on the way. Pack lots whose order has a refund in
// flight are left out.
func (t *Tally) summarizeLots(ctx context.Context, userID string) (lotTotals, error) {
	var totals lotTotals
	now := t.now()

	frozen, err := t.refundPendingKeys(ctx, userID)
	if err != nil {
		return totals, err
	}

	for _, lt := range []lot.Type{lot.TypeSubscriptionCycle, lot.TypePackOrder} {
		lots, err := t.store.ListActiveLots(ctx, userID, lt)
		if err != nil {
			return totals, fmt.Errorf("tally: list lots: %w", err)
		}

		for _, l := range lots {
			if l.IsExpiredAt(now) {
				t.expireLot(ctx, l)
				continue
			}
			remaining := l.Remaining()
			if remaining <= 0 {
				continue
			}

			if lt == lot.TypeSubscriptionCycle {
				totals.subscription += remaining
				continue
			}
			if _, skip := frozen[l.SourceKey]; skip {
				continue
			}
			totals.pack += remaining
			if l.ExpiresAt != nil && (totals.packExpiresAt == nil || l.ExpiresAt.Before(*totals.packExpiresAt)) {
				at := *l.ExpiresAt
				totals.packExpiresAt = &at
			}
		}
	}

	return totals, nil
}

func (t *Tally) refundPendingKeys(ctx context.Context, userID string) (map[string]struct{}, error) {
	ids, err := t.store.ListProviderOrderIDs(ctx, userID, order.StatusRefundPending)
	if err != nil {
		return nil, fmt.Errorf("tally: list refund pending orders: %w", err)
	}
	keys := make(map[string]struct{}, len(ids))
	for _, k := range ids {
		keys[k] = struct{}{}
	}
	return keys, nil
}

// Sync rebuilds the user's snapshot from active lots and the current
// debt. The write is guarded on the debt value read, so a concurrent
// AdjustDebt is never overwritten; on conflict the debt is re-read.
func (t *Tally) Sync(ctx context.Context, userID string) (*entitlement.Snapshot, error) {
	totals, err := t.summarizeLots(ctx, userID)
	if err != nil {
		return nil, err
	}

	for range maxAttempts {
		debt, err := t.CurrentDebt(ctx, userID)
		if err != nil {
			return nil, err
		}

		at := t.now()
		snap := &entitlement.Snapshot{
			UserID:                       userID,
			SubscriptionAvailableSeconds: totals.subscription,
			PackAvailableSeconds:         totals.pack,
			PackExpiresAt:                totals.packExpiresAt,
			DebtSeconds:                  debt,
			IsBlocked:                    entitlement.Blocked(debt, t.debtCap),
			LastSyncAt:                   &at,
			UpdatedAt:                    at,
		}

		ok, err := t.store.SaveSnapshot(ctx, snap)
		if err != nil {
			return nil, fmt.Errorf("tally: save snapshot: %w", err)
		}
		if !ok {
			continue
		}

		t.cacheSnapshot(ctx, snap)
		t.plugins.EmitSnapshotSynced(ctx, snap)
		return snap, nil
	}

	return nil, ErrConcurrencyExhausted
}

// GetSnapshot returns the user's snapshot, preferring the cache.
func (t *Tally) GetSnapshot(ctx context.Context, userID string) (*entitlement.Snapshot, error) {
	if t.cache != nil {
		snap, ok, err := t.cache.Get(ctx, userID)
		if err != nil {
			t.logger.Warn("snapshot cache read failed", "user_id", userID, "error", err)
		} else if ok {
			return snap, nil
		}
	}

	snap, err := t.store.GetSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	t.cacheSnapshot(ctx, snap)
	return snap, nil
}

func (t *Tally) cacheSnapshot(ctx context.Context, snap *entitlement.Snapshot) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Set(ctx, snap); err != nil {
		t.logger.Warn("snapshot cache write failed", "user_id", snap.UserID, "error", err)
	}
}

// invalidateSnapshot drops the cached copy after a write that bypasses Sync.
func (t *Tally) invalidateSnapshot(ctx context.Context, userID string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Invalidate(ctx, userID); err != nil {
		t.logger.Warn("snapshot cache invalidate failed", "user_id", userID, "error", err)
	}
}
