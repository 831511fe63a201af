package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/usage"
)

type fakeEngine struct {
	err error

	webhookBody  []byte
	historyLimit int
	checkoutPlan id.PlanID
	refundOrder  string
	refundUser   string
}

func (f *fakeEngine) HandleWebhook(_ context.Context, body []byte, _ http.Header) error {
	f.webhookBody = body
	return f.err
}

func (f *fakeEngine) GetUsageOverview(_ context.Context, _ string) (*tally.UsageOverview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &tally.UsageOverview{PackRemainingSeconds: 500, TotalRemainingSeconds: 500}, nil
}

func (f *fakeEngine) GetUsageHistory(_ context.Context, userID string, limit int) ([]*usage.Entry, error) {
	f.historyLimit = limit
	return []*usage.Entry{{UserID: userID, SecondsUsed: 100, Source: usage.SourcePack}}, f.err
}

func (f *fakeEngine) ListPlans(_ context.Context, _ plan.ListOpts) ([]*plan.Plan, error) {
	return nil, f.err
}

func (f *fakeEngine) CreateCheckout(_ context.Context, _ string, planID id.PlanID) (string, error) {
	f.checkoutPlan = planID
	return "https://pay.example/checkout", f.err
}

func (f *fakeEngine) CreatePortalSession(_ context.Context, _ string) (string, error) {
	return "https://pay.example/portal", f.err
}

func (f *fakeEngine) RequestPackRefund(_ context.Context, orderID, userID string) (*tally.RefundResult, error) {
	f.refundOrder, f.refundUser = orderID, userID
	if f.err != nil {
		return nil, f.err
	}
	return &tally.RefundResult{
		ProviderOrderID: orderID,
		Amount:          types.USD(2000),
		Status:          tally.RefundStatusPendingWebhook,
	}, nil
}

func serve(t *testing.T, eng Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	h := New(eng, HeaderUserResolver("X-User-ID"))
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

var asUser = map[string]string{"X-User-ID": "user-1"}

func TestAuthenticationRequired(t *testing.T) {
	eng := &fakeEngine{}
	for _, path := range []string{"/usage", "/usage/history"} {
		rec := serve(t, eng, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := serve(t, eng, http.MethodPost, "/refunds/po_1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, eng.refundOrder)
}

func TestUsageOverview(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/usage", "", asUser)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 500, body["pack_remaining_seconds"])
	assert.EqualValues(t, 500, body["total_remaining_seconds"])
}

func TestUsageHistoryLimit(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		status    int
		wantLimit int
	}{
		{"default", "", http.StatusOK, 0},
		{"explicit", "?limit=10", http.StatusOK, 10},
		{"not a number", "?limit=ten", http.StatusBadRequest, 0},
		{"too large", "?limit=1000", http.StatusBadRequest, 0},
		{"zero", "?limit=0", http.StatusOK, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			rec := serve(t, eng, http.MethodGet, "/usage/history"+tt.query, "", asUser)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantLimit, eng.historyLimit)
		})
	}
}

func TestCheckout(t *testing.T) {
	planID := id.NewPlanID()

	t.Run("valid", func(t *testing.T) {
		eng := &fakeEngine{}
		rec := serve(t, eng, http.MethodPost, "/checkout", fmt.Sprintf(`{"plan_id":%q}`, planID), asUser)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, planID, eng.checkoutPlan)
		assert.Contains(t, rec.Body.String(), "https://pay.example/checkout")
	})

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing plan", `{}`, "plan_id"},
		{"malformed json", `{"plan_id":`, "body"},
		{"wrong id kind", fmt.Sprintf(`{"plan_id":%q}`, id.NewOrderID()), "plan_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeEngine{}, http.MethodPost, "/checkout", tt.body, asUser)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.field, body.Field)
		})
	}
}

func TestRefund(t *testing.T) {
	eng := &fakeEngine{}
	rec := serve(t, eng, http.MethodPost, "/refunds/po_123", "", asUser)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "po_123", eng.refundOrder)
	assert.Equal(t, "user-1", eng.refundUser)
	assert.Contains(t, rec.Body.String(), tally.RefundStatusPendingWebhook)
}

func TestWebhook(t *testing.T) {
	eng := &fakeEngine{}
	rec := serve(t, eng, http.MethodPost, "/webhooks/polar", `{"type":"order.paid"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, `{"type":"order.paid"}`, string(eng.webhookBody))
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", tally.ValidationError{Field: "order_id", Message: "pack order not found"}, http.StatusBadRequest},
		{"configuration", tally.ConfigurationError{Setting: "provider", Message: "missing"}, http.StatusInternalServerError},
		{"external", tally.ExternalServiceError{Service: "polar", Message: "down"}, http.StatusBadGateway},
		{"concurrency", fmt.Errorf("refund: %w", tally.ErrConcurrencyExhausted), http.StatusServiceUnavailable},
		{"not found", tally.ErrOrderNotFound, http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.err))

			rec := serve(t, &fakeEngine{err: tt.err}, http.MethodPost, "/refunds/po_1", "", asUser)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestServerErrorsHideDetails(t *testing.T) {
	rec := serve(t, &fakeEngine{err: errors.New("dial tcp 10.0.0.5:5432: refused")}, http.MethodGet, "/usage", "", asUser)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}
