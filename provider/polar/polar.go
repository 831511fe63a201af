// Package polar implements provider.Provider on the Polar REST API.
package polar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/tally/provider"
)

// Name is reported by Client.Name and recorded on webhook events.
const Name = "polar"

// Server base URLs.
const (
	SandboxURL    = "https://sandbox-api.polar.sh"
	ProductionURL = "https://api.polar.sh"
)

// DefaultTimeout bounds each API call.
const DefaultTimeout = 30 * time.Second

// Config holds Polar credentials and redirect targets.
type Config struct {
	AccessToken string `json:"access_token" mapstructure:"access_token" yaml:"access_token"`
	// Server is "sandbox", "production" or an absolute URL.
	Server            string `json:"server" mapstructure:"server" yaml:"server"`
	SuccessURL        string `json:"success_url" mapstructure:"success_url" yaml:"success_url"`
	CheckoutReturnURL string `json:"checkout_return_url" mapstructure:"checkout_return_url" yaml:"checkout_return_url"`
	PortalReturnURL   string `json:"portal_return_url" mapstructure:"portal_return_url" yaml:"portal_return_url"`
	// RequestsPerSecond throttles outbound calls. Zero means unlimited.
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" mapstructure:"burst" yaml:"burst"`
}

// BaseURL resolves Server.
func (c Config) BaseURL() (string, error) {
	server := strings.ToLower(strings.TrimSpace(c.Server))
	switch {
	case server == "" || server == "sandbox":
		return SandboxURL, nil
	case server == "production":
		return ProductionURL, nil
	case strings.HasPrefix(server, "http://") || strings.HasPrefix(server, "https://"):
		return strings.TrimRight(strings.TrimSpace(c.Server), "/"), nil
	default:
		return "", fmt.Errorf("%w: polar server must be sandbox, production or an absolute URL", provider.ErrNotConfigured)
	}
}

// Client talks to the Polar API.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

var _ provider.Provider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New validates cfg and builds a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: polar access token", provider.ErrNotConfigured)
	}
	base, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) CreateCheckout(ctx context.Context, req provider.CheckoutRequest) (string, error) {
	if c.cfg.SuccessURL == "" {
		return "", fmt.Errorf("%w: polar success url", provider.ErrNotConfigured)
	}

	body := map[string]any{
		"products":             []string{req.ProductID},
		"success_url":          c.cfg.SuccessURL,
		"external_customer_id": req.ExternalCustomerID,
		"metadata":             req.Metadata,
	}
	if req.ProviderCustomerID != "" {
		body["customer_id"] = req.ProviderCustomerID
	}
	if req.CustomerEmail != "" {
		body["customer_email"] = req.CustomerEmail
	}
	if c.cfg.CheckoutReturnURL != "" {
		body["return_url"] = c.cfg.CheckoutReturnURL
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/checkouts/", body, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: checkout url missing", provider.ErrMalformedResponse)
	}
	return out.URL, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, req provider.PortalRequest) (string, error) {
	if c.cfg.PortalReturnURL == "" {
		return "", fmt.Errorf("%w: polar portal return url", provider.ErrNotConfigured)
	}

	body := map[string]any{"return_url": c.cfg.PortalReturnURL}
	if req.ProviderCustomerID != "" {
		body["customer_id"] = req.ProviderCustomerID
	} else {
		body["external_customer_id"] = req.ExternalCustomerID
	}

	var out struct {
		URL string `json:"customer_portal_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/customer-sessions/", body, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: customer portal url missing", provider.ErrMalformedResponse)
	}
	return out.URL, nil
}

func (c *Client) CreateRefund(ctx context.Context, req provider.RefundRequest) (*provider.Refund, error) {
	reason := req.Reason
	if reason == "" {
		reason = provider.DefaultRefundReason
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/refunds", map[string]any{
		"order_id": req.ProviderOrderID,
		"amount":   req.Amount.Amount,
		"reason":   reason,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &provider.Refund{ID: out.ID, Status: out.Status}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %w", provider.ErrUnavailable, err)
		}
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("polar: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("polar: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: polar unreachable: %w", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read polar response: %w", provider.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &provider.RequestError{Provider: Name, StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: polar returned %d: %s", provider.ErrUnavailable, resp.StatusCode, errorDetail(raw))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return fmt.Errorf("%w: %w", provider.ErrMalformedResponse, err)
		}
		return fmt.Errorf("polar: decode response: %w", err)
	}
	return nil
}

// errorDetail pulls a human message out of an error body.
func errorDetail(raw []byte) string {
	if len(raw) == 0 {
		return "unknown polar api error"
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"detail", "message", "error", "title"} {
			var s string
			if err := json.Unmarshal(body[key], &s); err == nil && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}

	r := []rune(string(raw))
	if len(r) > 300 {
		r = r[:300]
	}
	return string(r)
}
