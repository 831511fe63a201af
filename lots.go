package tally

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/types"
)

// ──────────────────────────────────────────────────
// Credit lots
// ──────────────────────────────────────────────────

// GrantLot creates a credit lot, or returns the existing lot with the same
// (type, source key). A lot is never overwritten, so replayed grants are
// harmless.
func (t *Tally) GrantLot(ctx context.Context, l *lot.Lot) (*lot.Lot, bool, error) {
	if l.UserID == "" || l.SourceKey == "" {
		return nil, false, invalid("lot", "user id and source key are required")
	}
	if l.GrantedSeconds < 0 {
		return nil, false, invalid("granted_seconds", "must not be negative")
	}
	if l.ID.IsNil() {
		l.ID = id.NewLotID()
	}
	l.Entity = types.NewEntity(t.now())
	l.ConsumedSeconds, l.RevokedSeconds = 0, 0
	l.Status = lot.StatusActive

	stored, created, err := t.store.InsertLot(ctx, l)
	if err != nil {
		return nil, false, fmt.Errorf("tally: grant lot %s/%s: %w", l.Type, l.SourceKey, err)
	}

	if created {
		t.logger.Info("credit lot granted",
			"user_id", stored.UserID,
			"lot_id", stored.ID.String(),
			"lot_type", stored.Type,
			"source_key", stored.SourceKey,
			"granted_seconds", stored.GrantedSeconds,
		)
		t.plugins.EmitLotGranted(ctx, stored)
	}

	return stored, created, nil
}

// Consume draws up to seconds from the user's active lots of type lt,
// earliest expiry first (lots without expiry last, ties by creation).
// Pack lots whose source key is in exclude are skipped. Expired lots met
// on the way are marked expired. It returns the seconds actually drawn.
func (t *Tally) Consume(ctx context.Context, userID string, lt lot.Type, seconds int64, exclude ...string) (int64, error) {
	if seconds <= 0 {
		return 0, nil
	}

	lots, err := t.store.ListActiveLots(ctx, userID, lt)
	if err != nil {
		return 0, fmt.Errorf("tally: list lots: %w", err)
	}

	excluded := make(map[string]struct{}, len(exclude))
	if lt == lot.TypePackOrder {
		for _, k := range exclude {
			excluded[k] = struct{}{}
		}
	}

	now := t.now()
	var consumed int64
	for _, l := range lots {
		if consumed >= seconds {
			break
		}
		if _, skip := excluded[l.SourceKey]; skip {
			continue
		}
		if l.IsExpiredAt(now) {
			t.expireLot(ctx, l)
			continue
		}
		if l.Remaining() <= 0 {
			continue
		}

		took, err := t.ConsumeLot(ctx, l.ID, seconds-consumed)
		if errors.Is(err, ErrConcurrencyExhausted) {
			// Heavily contended; whatever it cannot give is drawn from the
			// next lot or becomes debt.
			continue
		}
		if err != nil {
			return consumed, err
		}
		consumed += took
	}

	return consumed, nil
}

// ConsumeLot draws up to seconds from one lot with a bounded
// compare-and-swap loop and returns how many were drawn. A lot that is
// gone, not active or expired yields zero.
func (t *Tally) ConsumeLot(ctx context.Context, lotID id.LotID, seconds int64) (int64, error) {
	if seconds <= 0 {
		return 0, nil
	}

	for range maxAttempts {
		l, err := t.store.GetLot(ctx, lotID)
		if err != nil {
			if IsNotFound(err) {
				return 0, nil
			}
			return 0, fmt.Errorf("tally: read lot %s: %w", lotID, err)
		}
		if l.Status != lot.StatusActive {
			return 0, nil
		}
		if l.IsExpiredAt(t.now()) {
			t.expireLot(ctx, l)
			return 0, nil
		}

		remaining := l.Remaining()
		if remaining <= 0 {
			return 0, nil
		}
		take := min(remaining, seconds)

		ok, err := t.store.CompareAndSwapLot(ctx, l.ID, lot.ExpectOf(l), lot.Change{
			ConsumedSeconds: l.ConsumedSeconds + take,
			RevokedSeconds:  l.RevokedSeconds,
			Status:          lot.StatusActive,
		})
		if err != nil {
			return 0, fmt.Errorf("tally: consume lot %s: %w", lotID, err)
		}
		if ok {
			return take, nil
		}
	}

	t.logger.Warn("lot consumption lost every race", "lot_id", lotID.String())
	return 0, ErrConcurrencyExhausted
}

// RevokeRemaining moves whatever is left on a lot into revoked and marks
// it revoked. It returns the seconds revoked.
func (t *Tally) RevokeRemaining(ctx context.Context, lotID id.LotID) (int64, error) {
	for range maxAttempts {
		l, err := t.store.GetLot(ctx, lotID)
		if err != nil {
			if IsNotFound(err) {
				return 0, nil
			}
			return 0, fmt.Errorf("tally: read lot %s: %w", lotID, err)
		}

		// Only active lots can be revoked; expired and revoked are final.
		if l.Status != lot.StatusActive {
			return 0, nil
		}

		remaining := l.Remaining()
		if remaining <= 0 {
			ok, err := t.store.CompareAndSwapLot(ctx, l.ID, lot.ExpectOf(l), lot.Change{
				ConsumedSeconds: l.ConsumedSeconds,
				RevokedSeconds:  l.RevokedSeconds,
				Status:          lot.StatusRevoked,
			})
			if err != nil {
				return 0, fmt.Errorf("tally: revoke lot %s: %w", lotID, err)
			}
			if ok {
				t.plugins.EmitLotRevoked(ctx, l.ID.String(), 0)
				return 0, nil
			}
			continue
		}

		ok, err := t.store.CompareAndSwapLot(ctx, l.ID, lot.ExpectOf(l), lot.Change{
			ConsumedSeconds: l.ConsumedSeconds,
			RevokedSeconds:  l.RevokedSeconds + remaining,
			Status:          lot.StatusRevoked,
		})
		if err != nil {
			return 0, fmt.Errorf("tally: revoke lot %s: %w", lotID, err)
		}
		if ok {
			t.logger.Info("credit lot revoked",
				"lot_id", l.ID.String(),
				"user_id", l.UserID,
				"revoked_seconds", remaining,
			)
			t.plugins.EmitLotRevoked(ctx, l.ID.String(), remaining)
			return remaining, nil
		}
	}

	return 0, ErrConcurrencyExhausted
}

// ExpireSubscriptionLots marks all of the user's active subscription
// cycle lots expired.
func (t *Tally) ExpireSubscriptionLots(ctx context.Context, userID string) error {
	n, err := t.store.ExpireActiveLots(ctx, userID, lot.TypeSubscriptionCycle)
	if err != nil {
		return fmt.Errorf("tally: expire subscription lots: %w", err)
	}
	if n > 0 {
		t.logger.Info("subscription lots expired", "user_id", userID, "count", n)
	}
	return nil
}

// expireLot flips a lot whose expiry passed to expired. Losing the race
// is fine: whoever won moved the lot out of active, or consumed from it
// and the next reader retries the expiry.
func (t *Tally) expireLot(ctx context.Context, l *lot.Lot) {
	if l.Status != lot.StatusActive {
		return
	}
	_, err := t.store.CompareAndSwapLot(ctx, l.ID, lot.ExpectOf(l), lot.Change{
		ConsumedSeconds: l.ConsumedSeconds,
		RevokedSeconds:  l.RevokedSeconds,
		Status:          lot.StatusExpired,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Warn("failed to mark lot expired", "lot_id", l.ID.String(), "error", err)
	}
}

// expiresIn returns now + days, or nil when days is not positive.
func expiresIn(now time.Time, days int) *time.Time {
	if days <= 0 {
		return nil
	}
	at := now.AddDate(0, 0, days)
	return &at
}
