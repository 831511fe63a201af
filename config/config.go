// Package config loads tally settings from a file and TALLY_* environment
// variables and turns them into engine options.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/tally"
	"github.com/xraph/tally/cache/rediscache"
	"github.com/xraph/tally/provider/polar"
	"github.com/xraph/tally/provider/stripe"
)

// EnvPrefix is prepended to every environment key: polar.access_token is
// read from TALLY_POLAR_ACCESS_TOKEN.
const EnvPrefix = "TALLY"

// Payment provider names accepted in Config.Provider.
const (
	ProviderNone   = ""
	ProviderPolar  = "polar"
	ProviderStripe = "stripe"
)

// Config holds engine settings.
type Config struct {
	// DebtCapSeconds is the debt at which usage is blocked (default: 3600).
	DebtCapSeconds int64 `json:"debt_cap_seconds" mapstructure:"debt_cap_seconds" yaml:"debt_cap_seconds"`

	// StaleAfter is how long a claimed webhook may stay unfinished before
	// it can be reclaimed (default: 5m).
	StaleAfter time.Duration `json:"stale_after" mapstructure:"stale_after" yaml:"stale_after"`

	// SweepInterval is how often stale webhooks are retried (default: 1m).
	SweepInterval  time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`
	SweepBatchSize int           `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`
	DisableSweeper bool          `json:"disable_sweeper" mapstructure:"disable_sweeper" yaml:"disable_sweeper"`

	// WebhookSecret verifies Standard Webhooks deliveries ("whsec_...").
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`

	FreePlanProductID string `json:"free_plan_product_id" mapstructure:"free_plan_product_id" yaml:"free_plan_product_id"`
	FreeGrantDays     int    `json:"free_grant_days" mapstructure:"free_grant_days" yaml:"free_grant_days"`
	DisableFreePlan   bool   `json:"disable_free_plan" mapstructure:"disable_free_plan" yaml:"disable_free_plan"`

	// Provider selects the payment provider: "polar", "stripe" or empty
	// for none.
	Provider string        `json:"provider" mapstructure:"provider" yaml:"provider"`
	Polar    polar.Config  `json:"polar" mapstructure:"polar" yaml:"polar"`
	Stripe   stripe.Config `json:"stripe" mapstructure:"stripe" yaml:"stripe"`

	// Redis enables the snapshot cache when Addr is set.
	Redis rediscache.Config `json:"redis" mapstructure:"redis" yaml:"redis"`
}

// DefaultConfig returns a Config with the engine defaults.
func DefaultConfig() Config {
	return Config{
		DebtCapSeconds:    tally.DefaultDebtCapSeconds,
		StaleAfter:        tally.DefaultStaleAfter,
		SweepInterval:     tally.DefaultSweepInterval,
		SweepBatchSize:    tally.DefaultSweepBatchSize,
		FreePlanProductID: tally.DefaultFreePlanProductID,
		FreeGrantDays:     tally.DefaultFreeGrantDays,
	}
}

// Load reads path (any format viper understands; empty means only the
// environment) and applies defaults. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		DebtCapSeconds:    v.GetInt64("debt_cap_seconds"),
		StaleAfter:        v.GetDuration("stale_after"),
		SweepInterval:     v.GetDuration("sweep_interval"),
		SweepBatchSize:    v.GetInt("sweep_batch_size"),
		DisableSweeper:    v.GetBool("disable_sweeper"),
		WebhookSecret:     v.GetString("webhook_secret"),
		FreePlanProductID: v.GetString("free_plan_product_id"),
		FreeGrantDays:     v.GetInt("free_grant_days"),
		DisableFreePlan:   v.GetBool("disable_free_plan"),
		Provider:          strings.ToLower(v.GetString("provider")),
		Polar: polar.Config{
			AccessToken:       v.GetString("polar.access_token"),
			Server:            v.GetString("polar.server"),
			SuccessURL:        v.GetString("polar.success_url"),
			CheckoutReturnURL: v.GetString("polar.checkout_return_url"),
			PortalReturnURL:   v.GetString("polar.portal_return_url"),
			RequestsPerSecond: v.GetFloat64("polar.requests_per_second"),
			Burst:             v.GetInt("polar.burst"),
		},
		Stripe: stripe.Config{
			SecretKey:       v.GetString("stripe.secret_key"),
			WebhookSecret:   v.GetString("stripe.webhook_secret"),
			SuccessURL:      v.GetString("stripe.success_url"),
			CancelURL:       v.GetString("stripe.cancel_url"),
			PortalReturnURL: v.GetString("stripe.portal_return_url"),
		},
		Redis: rediscache.Config{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
			TTL:       v.GetDuration("redis.ttl"),
		},
	}

	if cfg.Provider == "none" {
		cfg.Provider = ProviderNone
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.DebtCapSeconds == 0 {
		c.DebtCapSeconds = defaults.DebtCapSeconds
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = defaults.StaleAfter
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.SweepBatchSize == 0 {
		c.SweepBatchSize = defaults.SweepBatchSize
	}
	if c.FreePlanProductID == "" {
		c.FreePlanProductID = defaults.FreePlanProductID
	}
	if c.FreeGrantDays == 0 {
		c.FreeGrantDays = defaults.FreeGrantDays
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DebtCapSeconds <= 0 {
		errs = append(errs, tally.ConfigurationError{Setting: "debt_cap_seconds", Message: "must be positive"})
	}
	if c.StaleAfter <= 0 {
		errs = append(errs, tally.ConfigurationError{Setting: "stale_after", Message: "must be positive"})
	}
	if c.SweepInterval < 0 || c.SweepBatchSize < 0 {
		errs = append(errs, tally.ConfigurationError{Setting: "sweep_interval", Message: "sweep settings must not be negative"})
	}
	if !c.DisableFreePlan && c.FreeGrantDays <= 0 {
		errs = append(errs, tally.ConfigurationError{Setting: "free_grant_days", Message: "must be positive"})
	}

	switch c.Provider {
	case ProviderNone:
	case ProviderPolar:
		if c.Polar.AccessToken == "" {
			errs = append(errs, tally.ConfigurationError{Setting: "polar.access_token", Message: "is required"})
		}
		if _, err := c.Polar.BaseURL(); err != nil {
			errs = append(errs, tally.ConfigurationError{Setting: "polar.server", Message: err.Error()})
		}
	case ProviderStripe:
		if c.Stripe.SecretKey == "" {
			errs = append(errs, tally.ConfigurationError{Setting: "stripe.secret_key", Message: "is required"})
		}
	default:
		errs = append(errs, tally.ConfigurationError{
			Setting: "provider",
			Message: fmt.Sprintf("unknown provider %q", c.Provider),
		})
	}

	return errors.Join(errs...)
}

// Options converts c into engine options. The payment provider client is
// built here; the snapshot cache is opened separately with OpenCache.
func (c *Config) Options() ([]tally.Option, error) {
	opts := []tally.Option{
		tally.WithDebtCap(c.DebtCapSeconds),
		tally.WithStaleAfter(c.StaleAfter),
		tally.WithSweepBatchSize(c.SweepBatchSize),
	}

	if c.DisableSweeper {
		opts = append(opts, tally.WithSweepInterval(0))
	} else {
		opts = append(opts, tally.WithSweepInterval(c.SweepInterval))
	}

	if c.DisableFreePlan {
		opts = append(opts, tally.WithFreePlan("", 0))
	} else {
		opts = append(opts, tally.WithFreePlan(c.FreePlanProductID, c.FreeGrantDays))
	}

	if c.WebhookSecret != "" {
		opts = append(opts, tally.WithWebhookSecret(c.WebhookSecret))
	}

	switch c.Provider {
	case ProviderPolar:
		client, err := polar.New(c.Polar)
		if err != nil {
			return nil, tally.ConfigurationError{Setting: "polar", Message: err.Error()}
		}
		opts = append(opts, tally.WithProvider(client))
	case ProviderStripe:
		client, err := stripe.New(c.Stripe)
		if err != nil {
			return nil, tally.ConfigurationError{Setting: "stripe", Message: err.Error()}
		}
		opts = append(opts, tally.WithProvider(client))
	}

	return opts, nil
}

// OpenCache connects the Redis snapshot cache. It returns nil, nil when
// no address is configured.
func (c *Config) OpenCache(ctx context.Context) (*rediscache.Cache, error) {
	if c.Redis.Addr == "" {
		return nil, nil //nolint:nilnil // cache is optional
	}
	return rediscache.New(ctx, c.Redis)
}
