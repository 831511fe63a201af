package plan

import (
	"context"

	"github.com/xraph/tally/id"
)

type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetPlanByProductID(ctx context.Context, productID string) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
}

type ListOpts struct {
	ActiveOnly bool
	Type       Type
	Limit      int
	Offset     int
}
