package tally_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/lot"
)

func TestAdjustDebtTracksBlockedThreshold(t *testing.T) {
	f := newFixture(t, tally.WithDebtCap(1000))
	ctx := context.Background()

	steps := []struct {
		delta   int64
		debt    int64
		blocked bool
	}{
		{0, 0, false},
		{999, 999, false},
		{1, 1000, true},
		{250, 1250, true},
		{-251, 999, false},
		{-5000, 0, false},
	}
	for _, s := range steps {
		debt, err := f.engine.AdjustDebt(ctx, "u1", s.delta)
		require.NoError(t, err)
		assert.Equal(t, s.debt, debt, "delta %d", s.delta)

		snap := f.snapshot(t, "u1")
		assert.Equal(t, s.debt, snap.DebtSeconds)
		assert.Equal(t, s.blocked, snap.IsBlocked, "delta %d", s.delta)
	}
}

func TestCurrentDebtUnknownUser(t *testing.T) {
	f := newFixture(t)

	debt, err := f.engine.CurrentDebt(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, debt)
}

func TestConcurrentDebtAdjustments(t *testing.T) {
	f := newFixture(t, tally.WithDebtCap(100000))
	ctx := context.Background()

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.AdjustDebt(ctx, "u1", 10); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, tally.ErrConcurrencyExhausted)
			}
		}()
	}
	wg.Wait()

	// Every increment that reported success is in the stored value, and
	// nothing else is.
	assert.Equal(t, succeeded*10, f.snapshot(t, "u1").DebtSeconds)
}

func TestSyncKeepsDebt(t *testing.T) {
	f := newFixture(t, tally.WithDebtCap(1000))
	ctx := context.Background()

	_, err := f.engine.AdjustDebt(ctx, "u1", 400)
	require.NoError(t, err)
	grant(t, f, "u1", lot.TypePackOrder, "ord_1", 100, nil)

	snap, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), snap.DebtSeconds)
	assert.Equal(t, int64(100), snap.PackAvailableSeconds)
	assert.False(t, snap.IsBlocked)
}
