package tally_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/lot"
)

func grant(t *testing.T, f *fixture, userID string, lt lot.Type, key string, seconds int64, expiresAt *time.Time) *lot.Lot {
	t.Helper()
	l, created, err := f.engine.GrantLot(context.Background(), &lot.Lot{
		UserID:         userID,
		Type:           lt,
		SourceKey:      key,
		GrantedSeconds: seconds,
		ExpiresAt:      expiresAt,
	})
	require.NoError(t, err)
	require.True(t, created)
	return l
}

func at(d time.Duration) *time.Time {
	ts := epoch.Add(d)
	return &ts
}

func TestGrantLotIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := grant(t, f, "u1", lot.TypePackOrder, "ord_1", 600, nil)

	again, created, err := f.engine.GrantLot(ctx, &lot.Lot{
		UserID: "u1", Type: lot.TypePackOrder, SourceKey: "ord_1", GrantedSeconds: 9999,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(600), again.GrantedSeconds)
}

func TestGrantLotValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		lot  *lot.Lot
	}{
		{"missing user", &lot.Lot{Type: lot.TypePackOrder, SourceKey: "k", GrantedSeconds: 1}},
		{"missing source", &lot.Lot{UserID: "u", Type: lot.TypePackOrder, GrantedSeconds: 1}},
		{"negative grant", &lot.Lot{UserID: "u", Type: lot.TypePackOrder, SourceKey: "k", GrantedSeconds: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.engine.GrantLot(ctx, tt.lot)
			assert.Error(t, err)
		})
	}
}

func TestConsumeOrdersByExpiryThenCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	later := grant(t, f, "u1", lot.TypePackOrder, "a", 100, at(10*24*time.Hour))
	never := grant(t, f, "u1", lot.TypePackOrder, "c", 100, nil)
	sooner := grant(t, f, "u1", lot.TypePackOrder, "b", 100, at(5*24*time.Hour))
	f.clock.Advance(time.Second)
	soonerTwin := grant(t, f, "u1", lot.TypePackOrder, "d", 100, at(5*24*time.Hour))

	got, err := f.engine.Consume(ctx, "u1", lot.TypePackOrder, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got)

	want := map[string]int64{
		sooner.SourceKey:     100,
		soonerTwin.SourceKey: 100,
		later.SourceKey:      50,
		never.SourceKey:      0,
	}
	for key, consumed := range want {
		l, err := f.store.GetLotBySource(ctx, lot.TypePackOrder, key)
		require.NoError(t, err)
		assert.Equal(t, consumed, l.ConsumedSeconds, "lot %s", key)
	}
}

func TestConsumeSkipsExcludedAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired := grant(t, f, "u1", lot.TypePackOrder, "old", 100, at(time.Hour))
	grant(t, f, "u1", lot.TypePackOrder, "frozen", 100, nil)
	grant(t, f, "u1", lot.TypePackOrder, "ok", 100, nil)

	f.clock.Advance(2 * time.Hour)

	got, err := f.engine.Consume(ctx, "u1", lot.TypePackOrder, 500, "frozen")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got)

	l, err := f.store.GetLot(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, lot.StatusExpired, l.Status)
	assert.Zero(t, l.ConsumedSeconds)

	frozen, err := f.store.GetLotBySource(ctx, lot.TypePackOrder, "frozen")
	require.NoError(t, err)
	assert.Zero(t, frozen.ConsumedSeconds)
}

func TestConsumeLotStopsAtRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := grant(t, f, "u1", lot.TypePackOrder, "ord_1", 100, nil)

	got, err := f.engine.ConsumeLot(ctx, l.ID, 70)
	require.NoError(t, err)
	assert.Equal(t, int64(70), got)

	got, err = f.engine.ConsumeLot(ctx, l.ID, 70)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got)

	got, err = f.engine.ConsumeLot(ctx, l.ID, 70)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestConcurrentConsumeNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := grant(t, f, "u1", lot.TypePackOrder, "ord_1", 1000, nil)

	const workers = 50
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.engine.Consume(ctx, "u1", lot.TypePackOrder, 30)
			assert.NoError(t, err)
			mu.Lock()
			total += got
			mu.Unlock()
		}()
	}
	wg.Wait()

	stored, err := f.store.GetLot(ctx, l.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, stored.ConsumedSeconds, int64(1000))
	assert.Equal(t, total, stored.ConsumedSeconds)
}

func TestRevokeRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := grant(t, f, "u1", lot.TypePackOrder, "ord_1", 100, nil)
	_, err := f.engine.ConsumeLot(ctx, l.ID, 40)
	require.NoError(t, err)

	revoked, err := f.engine.RevokeRemaining(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), revoked)

	stored, err := f.store.GetLot(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, lot.StatusRevoked, stored.Status)
	assert.Equal(t, int64(60), stored.RevokedSeconds)
	assert.Zero(t, stored.Remaining())

	again, err := f.engine.RevokeRemaining(ctx, l.ID)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestRevokeRemainingLeavesExpiredLots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := grant(t, f, "u1", lot.TypePackOrder, "ord_1", 100, at(time.Hour))
	f.clock.Advance(2 * time.Hour)

	// Sync marks the lot expired.
	_, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)

	revoked, err := f.engine.RevokeRemaining(ctx, l.ID)
	require.NoError(t, err)
	assert.Zero(t, revoked)

	stored, err := f.store.GetLot(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, lot.StatusExpired, stored.Status)
	assert.Zero(t, stored.RevokedSeconds)
}

func TestSyncExcludesExpiredLots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	short := grant(t, f, "u1", lot.TypePackOrder, "short", 100, at(time.Hour))
	grant(t, f, "u1", lot.TypePackOrder, "long", 200, at(48*time.Hour))
	grant(t, f, "u1", lot.TypeSubscriptionCycle, "cycle", 300, at(30*time.Minute))

	snap, err := f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), snap.PackAvailableSeconds)
	assert.Equal(t, int64(300), snap.SubscriptionAvailableSeconds)
	require.NotNil(t, snap.PackExpiresAt)
	assert.Equal(t, *at(time.Hour), *snap.PackExpiresAt)

	f.clock.Advance(2 * time.Hour)

	snap, err = f.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), snap.PackAvailableSeconds)
	assert.Zero(t, snap.SubscriptionAvailableSeconds)
	assert.Equal(t, *at(48*time.Hour), *snap.PackExpiresAt)

	stored, err := f.store.GetLot(ctx, short.ID)
	require.NoError(t, err)
	assert.Equal(t, lot.StatusExpired, stored.Status)
}
