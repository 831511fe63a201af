package tally_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/provider"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/webhook"
)

// base64("test-signing-secret")
const testSecret = "whsec_dGVzdC1zaWduaW5nLXNlY3JldA=="

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	mu        sync.Mutex
	refundErr error
	refunds   []provider.RefundRequest
	checkouts []provider.CheckoutRequest
	portals   []provider.PortalRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateCheckout(_ context.Context, req provider.CheckoutRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, req)
	return "https://pay.example.com/checkout/" + req.ProductID, nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, req provider.PortalRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.portals = append(p.portals, req)
	return "https://pay.example.com/portal/" + req.ExternalCustomerID, nil
}

func (p *fakeProvider) CreateRefund(_ context.Context, req provider.RefundRequest) (*provider.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, req)
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	return &provider.Refund{ID: "re_" + strconv.Itoa(len(p.refunds)), Status: "pending"}, nil
}

type fixture struct {
	engine   *tally.Tally
	store    *memory.Store
	clock    *clock
	provider *fakeProvider
	verifier *webhook.Verifier

	packPlan *plan.Plan
	subPlan  *plan.Plan
	freePlan *plan.Plan
}

func newFixture(t *testing.T, opts ...tally.Option) *fixture {
	t.Helper()

	clk := &clock{now: epoch}
	s := memory.New()
	prov := &fakeProvider{}

	base := []tally.Option{
		tally.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		tally.WithClock(clk.Now),
		tally.WithProvider(prov),
		tally.WithWebhookSecret(testSecret),
		tally.WithSweepInterval(0),
		tally.WithFreePlan("", 0),
	}
	engine := tally.New(s, append(base, opts...)...)

	v, err := webhook.NewVerifier(testSecret, webhook.WithVerifierClock(clk.Now))
	require.NoError(t, err)

	f := &fixture{engine: engine, store: s, clock: clk, provider: prov, verifier: v}
	f.seedPlans(t)
	return f
}

func (f *fixture) seedPlans(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	f.packPlan = &plan.Plan{
		Code: "pack_60", Name: "60 minute pack", Type: plan.TypePack,
		ProviderProductID: "prod_pack", Price: types.USD(3000),
		QuotaSeconds: 3600, PackExpiryDays: 365, Active: true,
	}
	f.subPlan = &plan.Plan{
		Code: "pro", Name: "Pro", Type: plan.TypeSubscription,
		ProviderProductID: "prod_sub", Price: types.USD(2000), BillingInterval: "month",
		QuotaSeconds: 7200, RolloverCapSeconds: 1800, Active: true,
	}
	f.freePlan = &plan.Plan{
		Code: "free", Name: "Free", Type: plan.TypeSubscription,
		ProviderProductID: tally.DefaultFreePlanProductID, Price: types.USD(0),
		QuotaSeconds: 600, Active: true,
	}
	for _, p := range []*plan.Plan{f.packPlan, f.subPlan, f.freePlan} {
		require.NoError(t, f.engine.CreatePlan(ctx, p))
	}
}

// deliver signs and hands a webhook delivery to the engine.
func (f *fixture) deliver(t *testing.T, eventID, eventType string, data map[string]any) error {
	t.Helper()

	body, err := json.Marshal(map[string]any{"type": eventType, "data": data})
	require.NoError(t, err)

	return f.deliverRaw(t, eventID, body)
}

func (f *fixture) payPack(t *testing.T, orderID, userID string) {
	t.Helper()
	require.NoError(t, f.deliver(t, "evt_paid_"+orderID, webhook.TypeOrderPaid, map[string]any{
		"id":                   orderID,
		"customer_external_id": userID,
		"customer_id":          "cus_" + userID,
		"product_id":           "prod_pack",
		"total_amount":         3000,
		"currency":             "USD",
	}))
}

func (f *fixture) snapshot(t *testing.T, userID string) *entitlement.Snapshot {
	t.Helper()
	snap, err := f.store.GetSnapshot(context.Background(), userID)
	require.NoError(t, err)
	return snap
}

func TestNewDefaults(t *testing.T) {
	engine := tally.New(memory.New())

	assert.Equal(t, tally.DefaultDebtCapSeconds, engine.DebtCap())
	assert.NotNil(t, engine.Store())
	assert.Equal(t, 0, engine.Plugins().Count())
}

func TestStartStop(t *testing.T) {
	engine := tally.New(memory.New(),
		tally.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		tally.WithSweepInterval(10*time.Millisecond),
	)

	require.NoError(t, engine.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, engine.Stop())
	// Stop is idempotent with respect to the worker.
	assert.NotPanics(t, func() { _ = engine.Stop() })
}

func TestEndToEndDebtPaidByPack(t *testing.T) {
	f := newFixture(t, tally.WithDebtCap(1000))
	ctx := context.Background()

	// 600 second pack.
	f.packPlan.QuotaSeconds = 600
	require.NoError(t, f.engine.UpdatePlan(ctx, f.packPlan))

	require.NoError(t, f.engine.RecordUsage(ctx, "u1", "job_1", 100))
	snap := f.snapshot(t, "u1")
	assert.Equal(t, int64(100), snap.DebtSeconds)
	assert.False(t, snap.IsBlocked)
	assert.Zero(t, snap.AvailableSeconds())

	f.payPack(t, "ord_1", "u1")

	snap = f.snapshot(t, "u1")
	assert.Zero(t, snap.DebtSeconds)
	assert.Equal(t, int64(500), snap.PackAvailableSeconds)
	assert.Zero(t, snap.SubscriptionAvailableSeconds)

	l, err := f.store.GetLotBySource(ctx, lot.TypePackOrder, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), l.ConsumedSeconds)
	assert.Equal(t, int64(600), l.GrantedSeconds)
	require.NotNil(t, l.ExpiresAt)
	assert.Equal(t, epoch.AddDate(0, 0, 365), *l.ExpiresAt)

	ov, err := f.engine.GetUsageOverview(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), ov.TotalRemainingSeconds)
	assert.Equal(t, int64(500), ov.PackRemainingSeconds)
}
