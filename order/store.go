package order

import (
	"context"

	"github.com/xraph/tally/types"
)

type Store interface {
	// InsertOrder stores o unless its ProviderOrderID is already known; the
	// stored order is returned either way.
	InsertOrder(ctx context.Context, o *Order) (stored *Order, created bool, err error)
	GetOrderByProviderID(ctx context.Context, providerOrderID string) (*Order, error)
	// ListProviderOrderIDs returns provider order ids of the user's orders
	// in the given status.
	ListProviderOrderIDs(ctx context.Context, userID string, status Status) ([]string, error)
	// TransitionOrderStatus moves the order from one status to another and
	// reports false when the stored status was not from.
	TransitionOrderStatus(ctx context.Context, providerOrderID string, from, to Status) (bool, error)
	// UpdateOrderRefund unconditionally sets status and refunded amount.
	UpdateOrderRefund(ctx context.Context, providerOrderID string, status Status, refunded types.Money) error
}
