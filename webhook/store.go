package webhook

import (
	"context"
	"time"
)

type Store interface {
	// RecordEvent inserts e if its EventID is new and reports whether it was.
	RecordEvent(ctx context.Context, e *Event) (bool, error)
	// ClaimEvent moves a received or failed event to processing, clearing
	// processed_at and error and stamping claimed_at.
	ClaimEvent(ctx context.Context, eventID string, now time.Time) (bool, error)
	// ReclaimStaleEvent re-stamps claimed_at on an event that has been
	// processing since before cutoff.
	ReclaimStaleEvent(ctx context.Context, eventID string, cutoff, now time.Time) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string, now time.Time) error
	MarkEventFailed(ctx context.Context, eventID string, errMsg string, now time.Time) error
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	// ListStaleEvents returns processing events claimed before cutoff,
	// oldest claim first.
	ListStaleEvents(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error)
}
