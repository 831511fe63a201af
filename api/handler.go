// Package api exposes the tally engine over HTTP with a chi router.
//
// Authentication stays with the embedding application: every route except
// the webhook asks the injected UserResolver who is calling.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/xraph/tally"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/usage"
)

// MaxWebhookBody bounds the size of a webhook delivery.
const MaxWebhookBody = 1 << 20

var errUnauthorized = errors.New("api: unauthorized")

// Engine is the part of *tally.Tally the handlers use.
type Engine interface {
	HandleWebhook(ctx context.Context, body []byte, h http.Header) error
	GetUsageOverview(ctx context.Context, userID string) (*tally.UsageOverview, error)
	GetUsageHistory(ctx context.Context, userID string, limit int) ([]*usage.Entry, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	CreateCheckout(ctx context.Context, userID string, planID id.PlanID) (string, error)
	CreatePortalSession(ctx context.Context, userID string) (string, error)
	RequestPackRefund(ctx context.Context, providerOrderID, userID string) (*tally.RefundResult, error)
}

var _ Engine = (*tally.Tally)(nil)

// UserResolver identifies the caller of a request. An error or an empty
// id is answered with 401.
type UserResolver interface {
	ResolveUser(r *http.Request) (string, error)
}

// UserResolverFunc is an adapter to use a plain function as a UserResolver.
type UserResolverFunc func(r *http.Request) (string, error)

// ResolveUser implements UserResolver.
func (f UserResolverFunc) ResolveUser(r *http.Request) (string, error) { return f(r) }

// HeaderUserResolver trusts a header set by an upstream gateway.
func HeaderUserResolver(header string) UserResolver {
	return UserResolverFunc(func(r *http.Request) (string, error) {
		return r.Header.Get(header), nil
	})
}

// Handler serves the tally HTTP routes.
type Handler struct {
	engine   Engine
	users    UserResolver
	validate *validator.Validate
	logger   *slog.Logger
	timeout  time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithTimeout bounds each request. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// New creates a Handler.
func New(engine Engine, users UserResolver, opts ...Option) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	h := &Handler{
		engine:   engine,
		users:    users,
		validate: validate,
		logger:   slog.Default(),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router. Mount it under any prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if h.timeout > 0 {
		r.Use(middleware.Timeout(h.timeout))
	}

	r.Post("/webhooks/polar", h.Webhook)
	r.Get("/plans", h.ListPlans)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get("/usage", h.UsageOverview)
		r.Get("/usage/history", h.UsageHistory)
		r.Post("/checkout", h.Checkout)
		r.Post("/portal", h.Portal)
		r.Post("/refunds/{orderID}", h.Refund)
	})

	return r
}

type userKey struct{}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.users.ResolveUser(r)
		if err != nil || userID == "" {
			writeError(w, h.logger, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userKey{}).(string)
	return userID
}

// Webhook handles POST /webhooks/polar. A 2xx tells the provider not to
// redeliver, so only validation failures are answered with 4xx.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		writeError(w, h.logger, tally.ValidationError{Field: "body", Message: "unreadable webhook body", Err: err})
		return
	}

	if err := h.engine.HandleWebhook(r.Context(), body, r.Header); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// ListPlans handles GET /plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	opts := plan.ListOpts{ActiveOnly: true, Type: plan.Type(r.URL.Query().Get("type"))}

	plans, err := h.engine.ListPlans(r.Context(), opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"plans": plans})
}

// UsageOverview handles GET /usage.
func (h *Handler) UsageOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.engine.GetUsageOverview(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, ov)
}

type historyQuery struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=500"`
}

// UsageHistory handles GET /usage/history?limit=N.
func (h *Handler) UsageHistory(w http.ResponseWriter, r *http.Request) {
	var q historyQuery
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, tally.ValidationError{Field: "limit", Message: "must be an integer", Err: err})
			return
		}
		q.Limit = n
	}
	if err := validateStruct(h.validate, &q); err != nil {
		writeError(w, h.logger, err)
		return
	}

	entries, err := h.engine.GetUsageHistory(r.Context(), userFrom(r), q.Limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{"entries": entries})
}

type checkoutRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// Checkout handles POST /checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	planID, err := id.ParsePlanID(req.PlanID)
	if err != nil {
		writeError(w, h.logger, tally.ValidationError{Field: "plan_id", Message: "invalid plan id", Err: err})
		return
	}

	url, err := h.engine.CreateCheckout(r.Context(), userFrom(r), planID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]string{"checkout_url": url})
}

// Portal handles POST /portal.
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	url, err := h.engine.CreatePortalSession(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]string{"portal_url": url})
}

// Refund handles POST /refunds/{orderID}. orderID is the provider's order id.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeError(w, h.logger, tally.ValidationError{Field: "order_id", Message: "is required"})
		return
	}

	res, err := h.engine.RequestPackRefund(r.Context(), orderID, userFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusAccepted, res)
}
