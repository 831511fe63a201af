// Package usage is the append-only ledger of consumed seconds.
package usage

import (
	"time"

	"github.com/xraph/tally/id"
)

// Source names the kind of lot an entry drew from.
type Source string

const (
	SourceSubscription Source = "subscription"
	SourcePack         Source = "pack"
)

type Entry struct {
	ID          id.UsageID `json:"id"`
	UserID      string     `json:"user_id"`
	JobID       string     `json:"job_id,omitempty"`
	SecondsUsed int64      `json:"seconds_used"`
	Source      Source     `json:"source"`
	CreatedAt   time.Time  `json:"created_at"`
}
