// Package webhook stores provider webhook deliveries and turns verified
// bodies into typed payloads. Deliveries are at-least-once; the stored
// Event row is what makes processing idempotent.
package webhook

import (
	"encoding/json"
	"time"

	"github.com/xraph/tally/id"
)

// Status of a stored delivery.
//
//	received|failed -> processing -> processed|failed
//	processing (stale) -> processing
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// MaxErrorLength bounds the error text kept on a failed event.
const MaxErrorLength = 1000

type Event struct {
	ID          id.WebhookEventID `json:"id"`
	EventID     string            `json:"event_id"`
	Provider    string            `json:"provider"`
	EventType   string            `json:"event_type"`
	Payload     json.RawMessage   `json:"payload"`
	Status      Status            `json:"status"`
	Attempts    int               `json:"attempts"`
	ClaimedAt   *time.Time        `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Claimable reports whether the event may move to processing.
func (e *Event) Claimable() bool {
	return e.Status == StatusReceived || e.Status == StatusFailed
}

// IsStale reports whether a processing claim started before cutoff.
func (e *Event) IsStale(cutoff time.Time) bool {
	return e.Status == StatusProcessing && e.ClaimedAt != nil && e.ClaimedAt.Before(cutoff)
}

// TruncateError cuts msg to MaxErrorLength runes.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorLength {
		return msg
	}
	return string(r[:MaxErrorLength])
}
