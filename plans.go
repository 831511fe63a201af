package tally

import (
	"context"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

// ──────────────────────────────────────────────────
// Plan operations
// ──────────────────────────────────────────────────

// CreatePlan creates a new plan.
func (t *Tally) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := validatePlan(p); err != nil {
		return err
	}
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	p.Price = types.New(p.Price.Amount, p.Price.Currency)
	p.Entity = types.NewEntity(t.now())

	return t.store.CreatePlan(ctx, p)
}

// GetPlan retrieves a plan by ID.
func (t *Tally) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return t.store.GetPlan(ctx, planID)
}

// GetPlanByProductID retrieves the plan mapped to a provider product.
func (t *Tally) GetPlanByProductID(ctx context.Context, productID string) (*plan.Plan, error) {
	return t.store.GetPlanByProductID(ctx, productID)
}

// ListPlans lists plans.
func (t *Tally) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return t.store.ListPlans(ctx, opts)
}

// UpdatePlan updates a plan. Existing lots keep the seconds they were
// granted with.
func (t *Tally) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	if err := validatePlan(p); err != nil {
		return err
	}
	p.Touch(t.now())

	return t.store.UpdatePlan(ctx, p)
}

func validatePlan(p *plan.Plan) error {
	if p.Code == "" {
		return invalid("plan_code", "is required")
	}
	if p.Type != plan.TypeSubscription && p.Type != plan.TypePack {
		return invalid("plan_type", "must be subscription or pack")
	}
	if p.QuotaSeconds < 0 || p.RolloverCapSeconds < 0 || p.PackExpiryDays < 0 {
		return invalid("quota_seconds", "quota, rollover cap and expiry must not be negative")
	}
	if p.Price.Amount < 0 {
		return invalid("price", "must not be negative")
	}
	return nil
}
