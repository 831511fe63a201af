// Package store defines the unified persistence contract for tally.
//
// The engine relies only on single-row atomic operations (insert-if-absent
// and compare-and-swap); backends are free to run on stores without
// multi-row transactions.
package store

import (
	"context"

	"github.com/xraph/tally/customer"
	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/usage"
	"github.com/xraph/tally/webhook"
)

// Store is the unified storage interface. Each entity package's Store uses
// method names prefixed by its entity, so they embed without conflicts.
type Store interface {
	plan.Store
	lot.Store
	entitlement.Store
	order.Store
	usage.Store
	subscription.Store
	customer.Store
	webhook.Store

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
