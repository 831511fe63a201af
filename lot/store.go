package lot

import (
	"context"

	"github.com/xraph/tally/id"
)

// Store persists lots. It exposes no multi-row transactions: every write
// is either an insert-if-absent or a single-row compare-and-swap.
type Store interface {
	// InsertLot stores l unless a lot with the same (Type, SourceKey)
	// exists, in which case the existing lot is returned with created=false.
	InsertLot(ctx context.Context, l *Lot) (stored *Lot, created bool, err error)
	GetLot(ctx context.Context, lotID id.LotID) (*Lot, error)
	GetLotBySource(ctx context.Context, t Type, sourceKey string) (*Lot, error)
	// ListActiveLots returns the user's active lots of type t ordered by
	// expires_at ascending (no expiry last), then created_at ascending.
	ListActiveLots(ctx context.Context, userID string, t Type) ([]*Lot, error)
	// CompareAndSwapLot applies change only if the stored row still matches
	// expect. It reports whether a row was updated.
	CompareAndSwapLot(ctx context.Context, lotID id.LotID, expect Expect, change Change) (bool, error)
	// ExpireActiveLots flips every active lot of type t for the user to
	// expired and returns how many changed.
	ExpireActiveLots(ctx context.Context, userID string, t Type) (int64, error)
}
