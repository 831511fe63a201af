package tally_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

func TestCreateCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	url, err := f.engine.CreateCheckout(ctx, "u1", f.subPlan.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/checkout/prod_sub", url)

	require.Len(t, f.provider.checkouts, 1)
	req := f.provider.checkouts[0]
	assert.Equal(t, "u1", req.ExternalCustomerID)
	assert.Equal(t, map[string]string{
		"user_id":   "u1",
		"plan_id":   f.subPlan.ID.String(),
		"plan_code": "pro",
		"version":   "1",
		"plan_type": "subscription",
	}, req.Metadata)

	c, err := f.store.GetCustomer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", c.ExternalCustomerID)
}

func TestCreateCheckoutRejects(t *testing.T) {
	f := newFixture(t, tally.WithFreePlan(tally.DefaultFreePlanProductID, 30))
	ctx := context.Background()

	retired := &plan.Plan{
		Code: "legacy", Name: "Legacy", Type: plan.TypePack,
		ProviderProductID: "prod_legacy", Price: types.USD(500), QuotaSeconds: 60,
	}
	require.NoError(t, f.engine.CreatePlan(ctx, retired))

	unlinked := &plan.Plan{
		Code: "manual", Name: "Manual", Type: plan.TypePack,
		Price: types.USD(500), QuotaSeconds: 60, Active: true,
	}
	require.NoError(t, f.engine.CreatePlan(ctx, unlinked))

	tests := []struct {
		name   string
		userID string
		planID id.PlanID
		check  func(error) bool
	}{
		{"missing user", "", f.packPlan.ID, tally.IsValidation},
		{"unknown plan", "u1", id.NewPlanID(), tally.IsValidation},
		{"inactive plan", "u1", retired.ID, tally.IsValidation},
		{"free plan", "u1", f.freePlan.ID, tally.IsValidation},
		{"no provider product", "u1", unlinked.ID, tally.IsConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateCheckout(ctx, tt.userID, tt.planID)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}
	assert.Empty(t, f.provider.checkouts)
}

func TestCreatePortalSessionPassesKnownCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.payPack(t, "ord_1", "u1")

	url, err := f.engine.CreatePortalSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/portal/u1", url)

	require.Len(t, f.provider.portals, 1)
	assert.Equal(t, "cus_u1", f.provider.portals[0].ProviderCustomerID)
}

func TestPlanCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.engine.GetPlanByProductID(ctx, "prod_pack")
	require.NoError(t, err)
	assert.Equal(t, f.packPlan.ID, got.ID)
	assert.Equal(t, 1, got.Version)

	packs, err := f.engine.ListPlans(ctx, plan.ListOpts{Type: plan.TypePack})
	require.NoError(t, err)
	assert.Len(t, packs, 1)

	got.Active = false
	require.NoError(t, f.engine.UpdatePlan(ctx, got))

	active, err := f.engine.ListPlans(ctx, plan.ListOpts{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	err = f.engine.CreatePlan(ctx, &plan.Plan{Code: "", Type: plan.TypePack})
	assert.True(t, tally.IsValidation(err))

	err = f.engine.CreatePlan(ctx, &plan.Plan{Code: "x", Type: "bundle"})
	assert.True(t, tally.IsValidation(err))
}
