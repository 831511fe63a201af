package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tally"
	"github.com/xraph/tally/api"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/store"
)

// Option configures the tally Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine. It takes precedence over
// WithGroveDB.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store on db. The backend follows the grove
// driver db was opened with unless WithStoreDriver names one.
func WithGroveDB(db *grove.DB) Option {
	return func(e *Extension) {
		e.groveDB = db
	}
}

// WithStoreDriver forces the store backend: DriverPostgres, DriverSQLite,
// DriverMongo or DriverMemory.
func WithStoreDriver(driver string) Option {
	return func(e *Extension) {
		e.config.StoreDriver = driver
	}
}

// WithTallyOption passes a tally.Option through to the underlying engine.
// Pass-through options are applied after the configured ones.
func WithTallyOption(opt tally.Option) Option {
	return func(e *Extension) {
		e.tallyOpts = append(e.tallyOpts, opt)
	}
}

// WithPlugin registers a tally plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.tallyOpts = append(e.tallyOpts, tally.WithPlugin(p))
	}
}

// WithUserResolver sets how the HTTP routes identify the caller.
func WithUserResolver(r api.UserResolver) Option {
	return func(e *Extension) { e.users = r }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents building the HTTP handler.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for tally routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithDebtCap sets the debt (in seconds) at which usage is blocked.
func WithDebtCap(seconds int64) Option {
	return func(e *Extension) { e.config.DebtCapSeconds = seconds }
}

// WithStaleAfter sets how long a claimed webhook may stay unfinished.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Extension) { e.config.StaleAfter = d }
}

// WithWebhookSecret sets the Standard Webhooks signing secret.
func WithWebhookSecret(secret string) Option {
	return func(e *Extension) { e.config.WebhookSecret = secret }
}
