package tally

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/provider"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/webhook"
)

// Defaults applied by New.
const (
	DefaultDebtCapSeconds    int64 = 3600
	DefaultStaleAfter              = 300 * time.Second
	DefaultSweepInterval           = time.Minute
	DefaultSweepBatchSize          = 50
	DefaultFreePlanProductID       = "internal_free"
	DefaultFreeGrantDays           = 30

	// maxAttempts bounds every compare-and-swap loop.
	maxAttempts = 5
)

// Tally is the entitlement engine.
type Tally struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	provider provider.Provider
	cache    entitlement.Cache
	now      func() time.Time

	webhookSecret   string
	webhookVerifier *webhook.Verifier
	providerName    string

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	debtCap           int64
	staleAfter        time.Duration
	sweepInterval     time.Duration
	sweepBatchSize    int
	freePlanProductID string
	freeGrantDays     int
	skipMigrate       bool
}

// New creates an engine over s.
func New(s store.Store, opts ...Option) *Tally {
	t := &Tally{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		now:               func() time.Time { return time.Now().UTC() },
		providerName:      "polar",
		stopChan:          make(chan struct{}),
		debtCap:           DefaultDebtCapSeconds,
		staleAfter:        DefaultStaleAfter,
		sweepInterval:     DefaultSweepInterval,
		sweepBatchSize:    DefaultSweepBatchSize,
		freePlanProductID: DefaultFreePlanProductID,
		freeGrantDays:     DefaultFreeGrantDays,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.webhookVerifier == nil && t.webhookSecret != "" {
		v, err := webhook.NewVerifier(t.webhookSecret, webhook.WithVerifierClock(t.now))
		if err != nil {
			t.logger.Warn("invalid webhook secret", "error", err)
		} else {
			t.webhookVerifier = v
		}
	}

	return t
}

// Option configures a Tally instance.
type Option func(*Tally)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tally) {
		t.logger = logger
		t.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(t *Tally) {
		_ = t.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithProvider sets the payment provider used for checkout, portal and
// refunds. Its name is recorded on stored webhook events.
func WithProvider(p provider.Provider) Option {
	return func(t *Tally) {
		t.provider = p
		t.providerName = p.Name()
	}
}

// WithWebhookSecret sets the Standard Webhooks signing secret.
func WithWebhookSecret(secret string) Option {
	return func(t *Tally) { t.webhookSecret = secret }
}

// WithWebhookVerifier installs a preconfigured verifier.
func WithWebhookVerifier(v *webhook.Verifier) Option {
	return func(t *Tally) { t.webhookVerifier = v }
}

// WithDebtCap sets the debt, in seconds, at which a user is blocked.
func WithDebtCap(seconds int64) Option {
	return func(t *Tally) { t.debtCap = seconds }
}

// WithStaleAfter sets how long a webhook may stay claimed before another
// delivery or the sweeper may reclaim it.
func WithStaleAfter(d time.Duration) Option {
	return func(t *Tally) { t.staleAfter = d }
}

// WithSweepInterval sets how often stale webhook events are retried.
// Zero disables the sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tally) { t.sweepInterval = d }
}

// WithSweepBatchSize sets how many stale events one sweep reprocesses.
func WithSweepBatchSize(n int) Option {
	return func(t *Tally) {
		if n > 0 {
			t.sweepBatchSize = n
		}
	}
}

// WithSnapshotCache mirrors synced snapshots into c for fast reads.
func WithSnapshotCache(c entitlement.Cache) Option {
	return func(t *Tally) { t.cache = c }
}

// WithFreePlan sets the provider product id of the plan granted to users
// on first use, and how many days each free grant lasts. An empty product
// id disables free grants.
func WithFreePlan(productID string, days int) Option {
	return func(t *Tally) {
		t.freePlanProductID = productID
		t.freeGrantDays = days
	}
}

// WithoutMigrate makes Start skip store migrations, for schemas managed
// outside the engine.
func WithoutMigrate() Option {
	return func(t *Tally) { t.skipMigrate = true }
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tally) { t.now = now }
}

// Store returns the underlying store.
func (t *Tally) Store() store.Store { return t.store }

// Plugins returns the plugin registry.
func (t *Tally) Plugins() *plugin.Registry { return t.plugins }

// DebtCap returns the configured blocking threshold in seconds.
func (t *Tally) DebtCap() int64 { return t.debtCap }

// Start migrates the store, initializes plugins and starts the stale
// webhook sweeper.
func (t *Tally) Start(ctx context.Context) error {
	if !t.skipMigrate {
		if err := t.store.Migrate(ctx); err != nil {
			return err
		}
	}

	t.plugins.EmitInit(ctx, t)

	if t.sweepInterval > 0 {
		t.wg.Add(1)
		go t.sweepWorker(context.WithoutCancel(ctx))
	}

	t.logger.Info("tally started",
		"debt_cap_seconds", t.debtCap,
		"stale_after", t.staleAfter,
		"sweep_interval", t.sweepInterval,
		"provider", t.providerName,
	)

	return nil
}

// Stop halts background workers, notifies plugins and closes the store.
func (t *Tally) Stop() error {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.wg.Wait()

	t.plugins.EmitShutdown(context.Background())

	return t.store.Close()
}

func (t *Tally) sweepWorker(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			n, err := t.SweepStaleEvents(ctx)
			if err != nil {
				t.logger.Error("failed to sweep stale webhook events", "error", err)
				continue
			}
			if n > 0 {
				t.logger.Info("stale webhook events reprocessed", "count", n)
			}
		}
	}
}
