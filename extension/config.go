package extension

import "github.com/xraph/tally/config"

// Store drivers accepted in Config.StoreDriver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the tally extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tally" or "tally" keys).
type Config struct {
	// Config carries the engine settings (debt cap, provider, redis, ...).
	config.Config `mapstructure:",squash" yaml:",inline"`

	// DisableRoutes prevents building the HTTP handler.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for tally routes (default: "/tally").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// UserHeader names the header carrying the authenticated user id for
	// the HTTP routes (default: "X-User-ID"). Ignored when a resolver is
	// set with WithUserResolver.
	UserHeader string `json:"user_header" mapstructure:"user_header" yaml:"user_header"`

	// StoreDriver overrides the backend built around the grove database
	// passed with WithGroveDB: "postgres", "sqlite", "mongo" or "memory".
	// Empty means the grove driver decides, or memory without a database.
	StoreDriver string `json:"store_driver" mapstructure:"store_driver" yaml:"store_driver"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config:     config.DefaultConfig(),
		BasePath:   "/tally",
		UserHeader: "X-User-ID",
	}
}
