package tally

import "github.com/xraph/tally/id"

// ID is the identifier type of plans, lots, orders, usage entries and
// stored webhook events.
type ID = id.ID

// Prefix identifies the record kind encoded in an ID.
type Prefix = id.Prefix
