// Package extension provides the Forge extension adapter for tally.
//
// It implements the forge.Extension interface to integrate the tally
// engine into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tally" or "tally" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/tally"
	"github.com/xraph/tally/api"
	"github.com/xraph/tally/cache/rediscache"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/memory"
	mongostore "github.com/xraph/tally/store/mongo"
	pgstore "github.com/xraph/tally/store/postgres"
	sqlitestore "github.com/xraph/tally/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tally"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Usage-based entitlement ledger for metered seconds"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts tally as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config    Config
	engine    *tally.Tally
	store     store.Store
	groveDB   *grove.DB
	cache     *rediscache.Cache
	handler   *api.Handler
	users     api.UserResolver
	tallyOpts []tally.Option
}

// New creates a new tally Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *tally.Tally { return e.engine }

// Handler returns the HTTP handler, or nil when routes are disabled.
// Mount it under Config().BasePath.
func (e *Extension) Handler() *api.Handler { return e.handler }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It loads configuration,
// builds the store and the engine, and registers them in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(context.Background()); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*tally.Tally, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}

	if e.handler == nil {
		return nil
	}
	return vessel.Provide(fapp.Container(), func() (*api.Handler, error) {
		return e.handler, nil
	})
}

// build validates the configuration and wires store, cache, engine and
// handler.
func (e *Extension) build(ctx context.Context) error {
	if err := e.config.Validate(); err != nil {
		return err
	}

	s, err := e.buildStore()
	if err != nil {
		return err
	}
	e.store = s

	opts, err := e.config.Options()
	if err != nil {
		return err
	}

	cache, err := e.config.OpenCache(ctx)
	if err != nil {
		return fmt.Errorf("tally: open snapshot cache: %w", err)
	}
	if cache != nil {
		e.cache = cache
		opts = append(opts, tally.WithSnapshotCache(cache))
	}

	if e.config.DisableMigrate {
		opts = append(opts, tally.WithoutMigrate())
	}

	// Pass-through options win over config-derived ones.
	opts = append(opts, e.tallyOpts...)

	e.engine = tally.New(e.store, opts...)

	if !e.config.DisableRoutes {
		users := e.users
		if users == nil {
			users = api.HeaderUserResolver(e.config.UserHeader)
		}
		e.handler = api.New(e.engine, users)
	}

	return nil
}

// buildStore picks the backend from WithStore, WithGroveDB or memory.
func (e *Extension) buildStore() (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}

	if e.groveDB == nil {
		if e.config.StoreDriver != "" && e.config.StoreDriver != DriverMemory {
			return nil, tally.ConfigurationError{
				Setting: "store_driver",
				Message: fmt.Sprintf("%q requires a grove database (WithGroveDB)", e.config.StoreDriver),
			}
		}
		return memory.New(), nil
	}

	driver, err := e.resolveDriver()
	if err != nil {
		return nil, err
	}

	switch driver {
	case DriverPostgres:
		return pgstore.New(e.groveDB), nil
	case DriverSQLite:
		return sqlitestore.New(e.groveDB), nil
	case DriverMongo:
		return mongostore.New(e.groveDB), nil
	default:
		return memory.New(), nil
	}
}

// resolveDriver reconciles the grove driver with the store_driver
// setting. A setting that contradicts a recognised driver is an error.
func (e *Extension) resolveDriver() (string, error) {
	name := e.groveDB.Driver().Name()
	detected := driverFor(name)
	override := e.config.StoreDriver

	switch {
	case override == DriverMemory:
		return DriverMemory, nil
	case override == "":
		if detected == "" {
			return "", tally.ConfigurationError{
				Setting: "store_driver",
				Message: fmt.Sprintf("cannot infer a store for grove driver %q; set store_driver", name),
			}
		}
		return detected, nil
	case override != DriverPostgres && override != DriverSQLite && override != DriverMongo:
		return "", tally.ConfigurationError{
			Setting: "store_driver",
			Message: fmt.Sprintf("unknown driver %q for grove database", override),
		}
	case detected != "" && detected != override:
		return "", tally.ConfigurationError{
			Setting: "store_driver",
			Message: fmt.Sprintf("%q does not match grove driver %q", override, name),
		}
	default:
		return override, nil
	}
}

// driverFor maps a grove driver name to a store driver.
func driverFor(groveName string) string {
	switch groveName {
	case "pg", "postgres":
		return DriverPostgres
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "mongo", "mongodb":
		return DriverMongo
	default:
		return ""
	}
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("tally: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	var errs []error
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	}
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	e.MarkStopped()
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tally: store not initialized")
	}
	return e.store.Ping(ctx)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tally: configuration is required but not found in config files; " +
				"ensure 'extensions.tally' or 'tally' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tally: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("store_driver", e.config.StoreDriver),
		forge.F("provider", e.config.Provider),
		forge.F("debt_cap_seconds", e.config.DebtCapSeconds),
		forge.F("stale_after", e.config.StaleAfter),
		forge.F("redis", e.config.Redis.Addr != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.tally", "tally"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("tally: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("tally: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	cfg.Config.ApplyDefaults()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.UserHeader == "" {
		cfg.UserHeader = defaults.UserHeader
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.UserHeader == "" {
		yamlConfig.UserHeader = programmaticConfig.UserHeader
	}
	if yamlConfig.StoreDriver == "" {
		yamlConfig.StoreDriver = programmaticConfig.StoreDriver
	}
	if yamlConfig.WebhookSecret == "" {
		yamlConfig.WebhookSecret = programmaticConfig.WebhookSecret
	}

	// Numeric fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.DebtCapSeconds == 0 {
		yamlConfig.DebtCapSeconds = programmaticConfig.DebtCapSeconds
	}
	if yamlConfig.StaleAfter == 0 {
		yamlConfig.StaleAfter = programmaticConfig.StaleAfter
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
