package tally_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/webhook"
)

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"type":"order.paid","data":{"id":"ord_1"}}`)
	h := http.Header{}
	h.Set(webhook.HeaderID, "evt_1")
	h.Set(webhook.HeaderTimestamp, "1740830400")
	h.Set(webhook.HeaderSignature, "v1,bm90LWEtc2lnbmF0dXJl")

	err := f.engine.HandleWebhook(context.Background(), body, h)
	require.Error(t, err)
	assert.True(t, tally.IsValidation(err))
	assert.ErrorIs(t, err, webhook.ErrInvalidSignature)

	_, err = f.store.GetEvent(context.Background(), "evt_1")
	assert.True(t, tally.IsNotFound(err))
}

func TestHandleWebhookWithoutSecret(t *testing.T) {
	engine := tally.New(memory.New())

	err := engine.HandleWebhook(context.Background(), []byte(`{}`), http.Header{})
	assert.True(t, tally.IsConfiguration(err))
}

func TestHandleWebhookRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t)

	// order.paid without a user id.
	err := f.deliver(t, "evt_bad", webhook.TypeOrderPaid, map[string]any{
		"id":         "ord_1",
		"product_id": "prod_pack",
	})
	require.Error(t, err)
	assert.True(t, tally.IsValidation(err))
	assert.ErrorIs(t, err, webhook.ErrInvalidPayload)

	_, err = f.store.GetEvent(context.Background(), "evt_bad")
	assert.True(t, tally.IsNotFound(err), "rejected payloads leave no event row")
}

func TestDuplicateDeliveryProcessedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.payPack(t, "ord_1", "u1")
	f.payPack(t, "ord_1", "u1")

	ev, err := f.store.GetEvent(ctx, "evt_paid_ord_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, ev.Status)
	assert.Equal(t, 1, ev.Attempts)
	assert.Equal(t, "fake", ev.Provider)

	assert.Equal(t, int64(3600), f.snapshot(t, "u1").PackAvailableSeconds)
}

func TestSameOrderDifferentEventsGrantOnce(t *testing.T) {
	f := newFixture(t)

	data := map[string]any{
		"id":                   "ord_1",
		"customer_external_id": "u1",
		"product_id":           "prod_pack",
		"total_amount":         3000,
	}
	require.NoError(t, f.deliver(t, "evt_a", webhook.TypeOrderPaid, data))
	require.NoError(t, f.deliver(t, "evt_b", webhook.TypeOrderPaid, data))

	assert.Equal(t, int64(3600), f.snapshot(t, "u1").PackAvailableSeconds)
}

func TestConcurrentDeliveriesGrantOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.deliver(t, "evt_1", webhook.TypeOrderPaid, map[string]any{
				"id":                   "ord_1",
				"customer_external_id": "u1",
				"product_id":           "prod_pack",
				"total_amount":         3000,
			}))
		}()
	}
	wg.Wait()

	ev, err := f.store.GetEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, ev.Status)
	assert.Equal(t, 1, ev.Attempts)
	assert.Equal(t, int64(3600), f.snapshot(t, "u1").PackAvailableSeconds)
}

func TestFailedEventIsRetriedOnRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	data := map[string]any{
		"id":                   "ord_1",
		"customer_external_id": "u1",
		"product_id":           "prod_new",
		"total_amount":         1500,
	}
	err := f.deliver(t, "evt_1", webhook.TypeOrderPaid, data)
	require.Error(t, err)
	assert.ErrorIs(t, err, tally.ErrPlanNotFound)

	ev, err := f.store.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusFailed, ev.Status)
	assert.Contains(t, ev.Error, "prod_new")

	newPack := *f.packPlan
	newPack.ID = tally.ID{}
	newPack.Code = "pack_new"
	newPack.ProviderProductID = "prod_new"
	require.NoError(t, f.engine.CreatePlan(ctx, &newPack))

	require.NoError(t, f.deliver(t, "evt_1", webhook.TypeOrderPaid, data))

	ev, err = f.store.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, ev.Status)
	assert.Equal(t, 2, ev.Attempts)
	assert.Empty(t, ev.Error)
}

func TestStaleClaimIsTakenOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A handler claimed the event and died.
	body := orderPaidBody(t, "ord_1", "u1")
	recordAndClaim(t, f, "evt_1", body)

	// Within the stale window a redelivery is a duplicate.
	f.clock.Advance(time.Minute)
	require.NoError(t, f.deliverRaw(t, "evt_1", body))
	ev, err := f.store.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessing, ev.Status)

	f.clock.Advance(tally.DefaultStaleAfter)
	require.NoError(t, f.deliverRaw(t, "evt_1", body))

	ev, err = f.store.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, ev.Status)
	assert.Equal(t, 2, ev.Attempts)
	assert.Equal(t, int64(3600), f.snapshot(t, "u1").PackAvailableSeconds)
}

func TestSweepStaleEvents(t *testing.T) {
	f := newFixture(t, tally.WithStaleAfter(time.Minute))
	ctx := context.Background()

	recordAndClaim(t, f, "evt_1", orderPaidBody(t, "ord_1", "u1"))
	recordAndClaim(t, f, "evt_2", []byte(`{"type":"order.paid","data":"broken"}`))

	n, err := f.engine.SweepStaleEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is stale yet")

	f.clock.Advance(2 * time.Minute)

	n, err = f.engine.SweepStaleEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev, err := f.store.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, ev.Status)
	assert.Equal(t, int64(3600), f.snapshot(t, "u1").PackAvailableSeconds)

	broken, err := f.store.GetEvent(ctx, "evt_2")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusFailed, broken.Status)
}

func TestUnhandledEventIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.deliver(t, "evt_1", "benefit.granted", map[string]any{"id": "b1"}))

	ev, err := f.store.GetEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, ev.Status)
}

func TestSubscriptionCycleLifecycle(t *testing.T) {
	f := newFixture(t, tally.WithDebtCap(100000))
	ctx := context.Background()

	cycle := func(eventID, eventType, status string, start, end time.Time) {
		t.Helper()
		require.NoError(t, f.deliver(t, eventID, eventType, map[string]any{
			"id":                   "sub_1",
			"status":               status,
			"customer_id":          "cus_1",
			"product_id":           "prod_sub",
			"current_period_start": start.Format(time.RFC3339),
			"current_period_end":   end.Format(time.RFC3339),
			"customer":             map[string]any{"external_id": "u1"},
		}))
	}

	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	april := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	may := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	cycle("evt_1", "subscription.active", "active", march, april)
	snap := f.snapshot(t, "u1")
	assert.Equal(t, int64(7200), snap.SubscriptionAvailableSeconds)

	// An update for the same cycle grants nothing new.
	cycle("evt_2", "subscription.updated", "active", march, april)
	assert.Equal(t, int64(7200), f.snapshot(t, "u1").SubscriptionAvailableSeconds)

	require.NoError(t, f.engine.RecordUsage(ctx, "u1", "job_1", 7000))

	// Renewal carries the 200 unused seconds over.
	f.clock.Advance(29 * 24 * time.Hour)
	cycle("evt_3", "subscription.updated", "active", april, may)

	snap = f.snapshot(t, "u1")
	assert.Equal(t, int64(7400), snap.SubscriptionAvailableSeconds)

	first, err := f.store.GetLotBySource(ctx, lot.TypeSubscriptionCycle, "sub_1:2025-03-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, lot.StatusExpired, first.Status)

	second, err := f.store.GetLotBySource(ctx, lot.TypeSubscriptionCycle, "sub_1:2025-04-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(7400), second.GrantedSeconds)
	require.NotNil(t, second.ExpiresAt)
	assert.Equal(t, may, *second.ExpiresAt)

	state, err := f.store.GetSubscriptionState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), state.RolloverSeconds)
	assert.Equal(t, int64(7200), state.CycleGrantSeconds)
	assert.Equal(t, "sub_1", state.ProviderSubscriptionID)

	c, err := f.store.GetCustomer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", c.ProviderCustomerID)

	cycle("evt_4", webhook.TypeSubscriptionRevoked, "canceled", april, may)
	assert.Zero(t, f.snapshot(t, "u1").SubscriptionAvailableSeconds)

	state, err = f.store.GetSubscriptionState(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, state.RolloverSeconds)
}

func TestRolloverIsCapped(t *testing.T) {
	f := newFixture(t)

	cycle := func(eventID string, start, end time.Time) {
		t.Helper()
		require.NoError(t, f.deliver(t, eventID, "subscription.active", map[string]any{
			"id":                   "sub_1",
			"status":               "active",
			"product_id":           "prod_sub",
			"customer_external_id": "u1",
			"current_period_start": start.Unix(),
			"current_period_end":   end.Unix(),
		}))
	}

	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	april := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	may := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	cycle("evt_1", march, april)
	cycle("evt_2", april, may)

	// 7200 unused, capped at 1800.
	assert.Equal(t, int64(7200+1800), f.snapshot(t, "u1").SubscriptionAvailableSeconds)
}

func TestPackRefundWebhookRevokesLot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.payPack(t, "ord_1", "u1")

	require.NoError(t, f.deliver(t, "evt_refund", webhook.TypeOrderRefunded, map[string]any{
		"order_id":        "ord_1",
		"refunded_amount": 1000,
	}))

	o, err := f.store.GetOrderByProviderID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, o.Status)
	assert.Equal(t, int64(1000), o.Refunded.Amount)
	assert.Equal(t, "usd", o.Refunded.Currency)

	l, err := f.store.GetLotBySource(ctx, lot.TypePackOrder, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, lot.StatusRevoked, l.Status)
	assert.Equal(t, int64(3600), l.RevokedSeconds)
	assert.Zero(t, f.snapshot(t, "u1").PackAvailableSeconds)
}

func TestSubscriptionOrderRefundNeedsFullAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.deliver(t, "evt_paid", webhook.TypeOrderPaid, map[string]any{
		"id":                   "ord_s1",
		"customer_external_id": "u1",
		"product_id":           "prod_sub",
		"subscription_id":      "sub_1",
		"total_amount":         2000,
	}))

	steps := []struct {
		eventID  string
		data     map[string]any
		refunded int64
		status   order.Status
	}{
		{"evt_r1", map[string]any{"id": "ord_s1", "refund_amount": 500}, 500, order.StatusPaid},
		{"evt_r2", map[string]any{"order": map[string]any{"id": "ord_s1"}, "total_refunded_amount": 400}, 500, order.StatusPaid},
		{"evt_r3", map[string]any{"order_id": "ord_s1", "amount": 5000}, 2000, order.StatusRefunded},
	}
	for _, s := range steps {
		require.NoError(t, f.deliver(t, s.eventID, webhook.TypeOrderRefunded, s.data))

		o, err := f.store.GetOrderByProviderID(ctx, "ord_s1")
		require.NoError(t, err)
		assert.Equal(t, s.refunded, o.Refunded.Amount, s.eventID)
		assert.Equal(t, s.status, o.Status, s.eventID)
	}
}

func TestRefundForUnknownOrderFails(t *testing.T) {
	f := newFixture(t)

	err := f.deliver(t, "evt_refund", webhook.TypeOrderRefunded, map[string]any{
		"order_id": "ord_missing",
		"amount":   100,
	})
	require.Error(t, err)
	assert.True(t, tally.IsExternal(err))
	assert.True(t, tally.IsRetryable(err))
}

func TestCustomerEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.deliver(t, "evt_1", webhook.TypeCustomerCreated, map[string]any{
		"id":              "cus_1",
		"external_id":     "u1",
		"email":           "u1@example.com",
		"billing_address": map[string]any{"country": "DE"},
	}))
	require.NoError(t, f.deliver(t, "evt_2", webhook.TypeCustomerStateChanged, map[string]any{
		"id": "cus_orphan",
	}))

	c, err := f.store.GetCustomer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", c.ProviderCustomerID)
	assert.Equal(t, "u1@example.com", c.Email)
	assert.Equal(t, "DE", c.Country)
}

func TestTruncatedFailureMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	longProduct := "prod_" + strings.Repeat("x", 2000)
	err := f.deliver(t, "evt_1", webhook.TypeOrderPaid, map[string]any{
		"id":                   "ord_1",
		"customer_external_id": "u1",
		"product_id":           longProduct,
	})
	require.Error(t, err)

	ev, err := f.store.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Len(t, []rune(ev.Error), webhook.MaxErrorLength)
}

func orderPaidBody(t *testing.T, orderID, userID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"type": webhook.TypeOrderPaid,
		"data": map[string]any{
			"id":                   orderID,
			"customer_external_id": userID,
			"product_id":           "prod_pack",
			"total_amount":         3000,
		},
	})
	require.NoError(t, err)
	return body
}

func recordAndClaim(t *testing.T, f *fixture, eventID string, body []byte) {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()

	created, err := f.store.RecordEvent(ctx, &webhook.Event{
		EventID:   eventID,
		Provider:  "fake",
		EventType: webhook.TypeOrderPaid,
		Payload:   body,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	require.True(t, created)

	claimed, err := f.store.ClaimEvent(ctx, eventID, now)
	require.NoError(t, err)
	require.True(t, claimed)
}

func (f *fixture) deliverRaw(t *testing.T, eventID string, body []byte) error {
	t.Helper()
	ts := f.clock.Now().Unix()
	h := http.Header{}
	h.Set(webhook.HeaderID, eventID)
	h.Set(webhook.HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(webhook.HeaderSignature, f.verifier.Sign(eventID, ts, body))
	return f.engine.HandleWebhook(context.Background(), body, h)
}
