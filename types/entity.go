// Package types holds value types shared by tally records.
package types

import "time"

// Entity carries the bookkeeping timestamps every stored record has.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity stamps both timestamps with now, normalized to UTC.
func NewEntity(now time.Time) Entity {
	now = now.UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch moves UpdatedAt to now.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = now.UTC()
}
