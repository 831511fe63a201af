package webhook_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/webhook"
)

func decode(t *testing.T, body string) (webhook.Payload, error) {
	t.Helper()
	env, err := webhook.ParseEnvelope([]byte(body), http.Header{})
	require.NoError(t, err)
	return webhook.Decode(env)
}

func TestParseEnvelope(t *testing.T) {
	h := http.Header{}
	h.Set(webhook.HeaderID, "hdr-id")

	env, err := webhook.ParseEnvelope([]byte(`{"id":"body-id","type":"order.paid","data":{"id":"o"}}`), h)
	require.NoError(t, err)
	assert.Equal(t, "hdr-id", env.EventID, "header wins")

	env, err = webhook.ParseEnvelope([]byte(`{"id":"body-id","type":"order.paid","data":{"id":"o"}}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "body-id", env.EventID)

	for _, bad := range []string{
		`{"type":"order.paid","data":{}}`,
		`{"id":"x","data":{}}`,
		`{"id":"x","type":"order.paid","data":[1]}`,
		`{"id":"x","type":"order.paid"}`,
		`"string"`,
	} {
		_, err := webhook.ParseEnvelope([]byte(bad), http.Header{})
		assert.ErrorIs(t, err, webhook.ErrInvalidPayload, bad)
	}
}

func TestDecodeOrderPaid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want webhook.OrderPaid
	}{
		{
			name: "flat fields",
			data: `{"id":"ord_1","customer_external_id":"u1","product_id":"p1","total_amount":1500,"currency":"USD","customer_id":"c1","subscription_id":"s1"}`,
			want: webhook.OrderPaid{ProviderOrderID: "ord_1", UserID: "u1", ProductID: "p1", PaidCents: 1500, Currency: "usd", ProviderCustomerID: "c1", ProviderSubscriptionID: "s1"},
		},
		{
			name: "nested customer and product",
			data: `{"id":"ord_2","customer":{"external_id":"u2","email":"a@b.c"},"product":{"id":"p2"},"net_amount":"900"}`,
			want: webhook.OrderPaid{ProviderOrderID: "ord_2", UserID: "u2", ProductID: "p2", PaidCents: 900, CustomerEmail: "a@b.c"},
		},
		{
			name: "metadata user and amount fallback",
			data: `{"id":"ord_3","metadata":{"user_id":"u3"},"product_id":"p3","total_amount":"n/a","amount":-5}`,
			want: webhook.OrderPaid{ProviderOrderID: "ord_3", UserID: "u3", ProductID: "p3", PaidCents: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := decode(t, `{"id":"e","type":"order.paid","data":`+tt.data+`}`)
			require.NoError(t, err)
			got, ok := p.(*webhook.OrderPaid)
			require.True(t, ok)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestDecodeOrderPaidRequiresIdentity(t *testing.T) {
	for _, data := range []string{
		`{"customer_external_id":"u","product_id":"p"}`,
		`{"id":"o","product_id":"p"}`,
		`{"id":"o","customer_external_id":"u"}`,
		`{"id":42,"customer_external_id":"u","product_id":"p"}`,
	} {
		_, err := decode(t, `{"id":"e","type":"order.paid","data":`+data+`}`)
		assert.ErrorIs(t, err, webhook.ErrInvalidPayload, data)
	}
}

func TestDecodeOrderRefunded(t *testing.T) {
	p, err := decode(t, `{"id":"e","type":"order.refunded","data":{"order_id":"o1","id":"r1","order":{"id":"o2"},"refunded_amount":700,"amount":100}}`)
	require.NoError(t, err)

	got := p.(*webhook.OrderRefunded)
	assert.Equal(t, []string{"o1", "r1", "o2"}, got.CandidateOrderIDs)
	require.NotNil(t, got.TotalRefundedCents)
	assert.Equal(t, int64(700), *got.TotalRefundedCents)
	assert.Equal(t, int64(100), got.DeltaCents)

	p, err = decode(t, `{"id":"e","type":"order.refunded","data":{"id":"o1","refund_amount":250}}`)
	require.NoError(t, err)
	got = p.(*webhook.OrderRefunded)
	assert.Nil(t, got.TotalRefundedCents)
	assert.Equal(t, int64(250), got.DeltaCents)

	_, err = decode(t, `{"id":"e","type":"order.refunded","data":{"amount":1}}`)
	assert.ErrorIs(t, err, webhook.ErrInvalidPayload)
}

func TestDecodeSubscription(t *testing.T) {
	p, err := decode(t, `{"id":"e","type":"subscription.active","data":{
		"id":"sub_1","customer_external_id":"u1","product_id":"p1","status":"active",
		"current_period_start":"2025-01-01T00:00:00Z","current_period_end":1738368000}}`)
	require.NoError(t, err)

	got := p.(*webhook.SubscriptionChanged)
	assert.Equal(t, "subscription.active", got.EventType())
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *got.PeriodStart)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *got.PeriodEnd)
	assert.Equal(t, "sub_1:2025-01-01T00:00:00Z", got.CycleKey())
	assert.False(t, got.Ends())
}

func TestSubscriptionCycleKeyAndEnds(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	s := &webhook.SubscriptionChanged{UserID: "u1", Status: "active", PeriodStart: &start, PeriodEnd: &end}
	assert.Equal(t, "user:u1:2025-01-01T00:00:00Z", s.CycleKey())

	s.PeriodEnd = nil
	assert.Empty(t, s.CycleKey())

	assert.True(t, (&webhook.SubscriptionChanged{Type: webhook.TypeSubscriptionRevoked, Status: "active"}).Ends())
	assert.True(t, (&webhook.SubscriptionChanged{Type: "subscription.updated", Status: "ended"}).Ends())
	assert.False(t, (&webhook.SubscriptionChanged{Type: "subscription.canceled", Status: "canceled"}).Ends())
}

func TestDecodeSubscriptionDefaultsStatus(t *testing.T) {
	p, err := decode(t, `{"id":"e","type":"subscription.updated","data":{"subscription_id":"s","metadata":{"user_id":"u"},"product":{"id":"p"}}}`)
	require.NoError(t, err)

	got := p.(*webhook.SubscriptionChanged)
	assert.Equal(t, "unknown", got.Status)
	assert.Equal(t, "s", got.ProviderSubscriptionID)
	assert.Nil(t, got.PeriodStart)
}

func TestDecodeCustomer(t *testing.T) {
	p, err := decode(t, `{"id":"e","type":"customer.state_changed","data":{"id":"cus_1","external_id":"u1","email":"x@y.z","billing_address":{"country":"DE"}}}`)
	require.NoError(t, err)
	assert.Equal(t, &webhook.CustomerChanged{
		Type: "customer.state_changed", ExternalID: "u1", ProviderCustomerID: "cus_1", Email: "x@y.z", Country: "DE",
	}, p)
}

func TestDecodeUnknownType(t *testing.T) {
	p, err := decode(t, `{"id":"e","type":"benefit.granted","data":{}}`)
	require.NoError(t, err)
	assert.Equal(t, &webhook.Unhandled{Type: "benefit.granted"}, p)
}

func TestTruncateError(t *testing.T) {
	long := make([]rune, 1500)
	for i := range long {
		long[i] = 'é'
	}
	assert.Len(t, []rune(webhook.TruncateError(string(long))), webhook.MaxErrorLength)
	assert.Equal(t, "short", webhook.TruncateError("short"))
}
