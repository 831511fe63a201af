package rediscache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/cache/rediscache"
	"github.com/xraph/tally/entitlement"
)

func newCache(t *testing.T) *rediscache.Cache {
	t.Helper()
	addr := os.Getenv("TALLY_REDIS_ADDR")
	if addr == "" {
		t.Skip("TALLY_REDIS_ADDR not set")
	}

	c, err := rediscache.New(context.Background(), rediscache.Config{
		Addr:      addr,
		KeyPrefix: "tally:test:" + t.Name() + ":",
		TTL:       time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetGetInvalidate(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	synced := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	want := &entitlement.Snapshot{
		UserID:                       "u1",
		SubscriptionAvailableSeconds: 600,
		PackAvailableSeconds:         300,
		DebtSeconds:                  10,
		LastSyncAt:                   &synced,
		UpdatedAt:                    synced,
	}
	require.NoError(t, c.Set(ctx, want))

	got, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, c.Invalidate(ctx, "u1"))
	_, ok, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := rediscache.New(ctx, rediscache.Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
