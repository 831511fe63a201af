package customer

import "context"

type Store interface {
	// UpsertCustomer creates the row or overwrites only the non-empty
	// fields of c.
	UpsertCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, userID string) (*Customer, error)
}
