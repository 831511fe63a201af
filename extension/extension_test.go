package extension

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/tally"
	"github.com/xraph/tally/config"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/memory"
	pgstore "github.com/xraph/tally/store/postgres"
	sqlitestore "github.com/xraph/tally/store/sqlite"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{})

	assert.Equal(t, "/tally", cfg.BasePath)
	assert.Equal(t, "X-User-ID", cfg.UserHeader)
	assert.Empty(t, cfg.StoreDriver)
	assert.Equal(t, int64(tally.DefaultDebtCapSeconds), cfg.DebtCapSeconds)
	assert.Equal(t, tally.DefaultStaleAfter, cfg.StaleAfter)
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{
		Config:   config.Config{DebtCapSeconds: 600},
		BasePath: "/billing",
	}
	programmatic := Config{
		Config:         config.Config{DebtCapSeconds: 1200, StaleAfter: time.Minute, WebhookSecret: "whsec_x"},
		BasePath:       "/ignored",
		DisableRoutes:  true,
		DisableMigrate: true,
	}

	got := mergeConfigurations(yaml, programmatic)

	assert.Equal(t, int64(600), got.DebtCapSeconds, "file wins")
	assert.Equal(t, "/billing", got.BasePath, "file wins")
	assert.Equal(t, time.Minute, got.StaleAfter, "programmatic fills gaps")
	assert.Equal(t, "whsec_x", got.WebhookSecret, "programmatic fills gaps")
	assert.True(t, got.DisableRoutes)
	assert.True(t, got.DisableMigrate)
	assert.Equal(t, tally.DefaultSweepInterval, got.SweepInterval, "defaults fill the rest")
}

func TestBuildWithMemoryStore(t *testing.T) {
	e := New(WithDebtCap(900))
	e.config = mergeWithDefaults(e.config)

	require.NoError(t, e.build(context.Background()))

	require.NotNil(t, e.Engine())
	assert.Equal(t, int64(900), e.Engine().DebtCap())
	assert.IsType(t, &memory.Store{}, e.store)
	assert.NotNil(t, e.Handler())
	assert.NoError(t, e.Health(context.Background()))
}

func TestBuildHonoursOptions(t *testing.T) {
	s := memory.New()
	e := New(WithStore(s), WithDisableRoutes(), WithTallyOption(tally.WithDebtCap(42)))
	e.config = mergeWithDefaults(e.config)

	require.NoError(t, e.build(context.Background()))

	assert.Same(t, s, e.store)
	assert.Nil(t, e.Handler())
	assert.Equal(t, int64(42), e.Engine().DebtCap(), "pass-through options apply last")
}

func TestBuildRejectsInvalidSetup(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func(*Config)
		setting string
	}{
		{"sql driver without grove db", func(c *Config) { c.StoreDriver = DriverPostgres }, "store_driver"},
		{"unknown provider", func(c *Config) { c.Provider = "paypal" }, "provider"},
		{"polar without token", func(c *Config) { c.Provider = config.ProviderPolar }, "polar.access_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			e.config = mergeWithDefaults(e.config)
			tt.cfg(&e.config)

			err := e.build(context.Background())
			require.Error(t, err)
			assert.True(t, tally.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.setting)
		})
	}
}

func TestBuildStoreFollowsGroveDriver(t *testing.T) {
	sqliteDB, err := grove.Open(sqlitedriver.New())
	require.NoError(t, err)
	pgDB, err := grove.Open(pgdriver.New())
	require.NoError(t, err)

	tests := []struct {
		name     string
		opts     []Option
		want     store.Store
		errorSet string
	}{
		{"inferred sqlite", []Option{WithGroveDB(sqliteDB)}, &sqlitestore.Store{}, ""},
		{"inferred postgres", []Option{WithGroveDB(pgDB)}, &pgstore.Store{}, ""},
		{"matching override", []Option{WithGroveDB(sqliteDB), WithStoreDriver(DriverSQLite)}, &sqlitestore.Store{}, ""},
		{"memory override", []Option{WithGroveDB(pgDB), WithStoreDriver(DriverMemory)}, &memory.Store{}, ""},
		{"mismatched override", []Option{WithGroveDB(sqliteDB), WithStoreDriver(DriverPostgres)}, nil, "store_driver"},
		{"unknown override", []Option{WithGroveDB(pgDB), WithStoreDriver("cassandra")}, nil, "store_driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.opts...)
			e.config = mergeWithDefaults(e.config)

			s, err := e.buildStore()
			if tt.errorSet != "" {
				require.Error(t, err)
				assert.True(t, tally.IsConfiguration(err))
				assert.Contains(t, err.Error(), tt.errorSet)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}
}
