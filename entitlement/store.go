package entitlement

import (
	"context"
	"time"
)

type Store interface {
	GetSnapshot(ctx context.Context, userID string) (*Snapshot, error)
	// EnsureSnapshot inserts an empty snapshot row for the user if none
	// exists. It never modifies an existing row.
	EnsureSnapshot(ctx context.Context, userID string) error
	// CompareAndSwapDebt sets debt and blocked only if the stored debt
	// still equals expectDebt.
	CompareAndSwapDebt(ctx context.Context, userID string, expectDebt, debt int64, blocked bool, at time.Time) (bool, error)
	// SaveSnapshot writes every field of s, guarded on the stored debt still
	// equalling s.DebtSeconds. A missing row is created.
	SaveSnapshot(ctx context.Context, s *Snapshot) (bool, error)
}

// Cache is an optional read-through copy of snapshots. Get reports a miss
// with ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, userID string) (s *Snapshot, ok bool, err error)
	Set(ctx context.Context, s *Snapshot) error
	Invalidate(ctx context.Context, userID string) error
}
