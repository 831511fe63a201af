package usage

import "context"

type Store interface {
	InsertUsageEntry(ctx context.Context, e *Entry) error
	// ListUsageEntries returns newest entries first.
	ListUsageEntries(ctx context.Context, userID string, opts ListOpts) ([]*Entry, error)
}

type ListOpts struct {
	Limit  int
	Offset int
}
