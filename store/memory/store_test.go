package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/webhook"
)

func newLot(userID, source string, expires *time.Time, created time.Time) *lot.Lot {
	l := &lot.Lot{
		ID:             id.NewLotID(),
		UserID:         userID,
		Type:           lot.TypePackOrder,
		SourceKey:      source,
		GrantedSeconds: 600,
		ExpiresAt:      expires,
		Status:         lot.StatusActive,
	}
	l.CreatedAt = created
	l.UpdatedAt = created
	return l
}

func TestInsertLotIsIdempotentOnSource(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	first, created, err := s.InsertLot(ctx, newLot("u1", "order_1", nil, now))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.InsertLot(ctx, newLot("u1", "order_1", nil, now))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestListActiveLotsOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	soon := base.Add(24 * time.Hour)
	later := base.Add(48 * time.Hour)

	never := newLot("u1", "never", nil, base)
	laterOld := newLot("u1", "later-old", &later, base)
	soonNew := newLot("u1", "soon-new", &soon, base.Add(time.Hour))
	soonOld := newLot("u1", "soon-old", &soon, base)
	other := newLot("u2", "other", &soon, base)

	for _, l := range []*lot.Lot{never, laterOld, soonNew, soonOld, other} {
		_, _, err := s.InsertLot(ctx, l)
		require.NoError(t, err)
	}

	got, err := s.ListActiveLots(ctx, "u1", lot.TypePackOrder)
	require.NoError(t, err)

	keys := make([]string, len(got))
	for i, l := range got {
		keys[i] = l.SourceKey
	}
	assert.Equal(t, []string{"soon-old", "soon-new", "later-old", "never"}, keys)
}

func TestCompareAndSwapLot(t *testing.T) {
	s := New()
	ctx := context.Background()
	l := newLot("u1", "order_1", nil, time.Now())
	_, _, err := s.InsertLot(ctx, l)
	require.NoError(t, err)

	stale := lot.ExpectOf(l)
	ok, err := s.CompareAndSwapLot(ctx, l.ID, stale, lot.Change{ConsumedSeconds: 100, Status: lot.StatusActive})
	require.NoError(t, err)
	assert.True(t, ok)

	// The same expectation no longer matches.
	ok, err = s.CompareAndSwapLot(ctx, l.ID, stale, lot.Change{ConsumedSeconds: 200, Status: lot.StatusActive})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetLot(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ConsumedSeconds)
}

func TestReturnedRowsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	l := newLot("u1", "order_1", nil, time.Now())
	_, _, err := s.InsertLot(ctx, l)
	require.NoError(t, err)

	got, err := s.GetLot(ctx, l.ID)
	require.NoError(t, err)
	got.ConsumedSeconds = 999

	again, err := s.GetLot(ctx, l.ID)
	require.NoError(t, err)
	assert.Zero(t, again.ConsumedSeconds)
}

func TestSaveSnapshotGuardsDebt(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.EnsureSnapshot(ctx, "u1"))
	ok, err := s.CompareAndSwapDebt(ctx, "u1", 0, 30, false, now)
	require.NoError(t, err)
	require.True(t, ok)

	// Balances computed against debt 0 must not overwrite debt 30.
	ok, err = s.SaveSnapshot(ctx, &entitlement.Snapshot{UserID: "u1", DebtSeconds: 0, PackAvailableSeconds: 600})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.SaveSnapshot(ctx, &entitlement.Snapshot{UserID: "u1", DebtSeconds: 30, PackAvailableSeconds: 600})
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := s.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), snap.PackAvailableSeconds)
	assert.Equal(t, int64(30), snap.DebtSeconds)
}

func TestRecordEventTwice(t *testing.T) {
	s := New()
	ctx := context.Background()
	ev := &webhook.Event{ID: id.NewWebhookEventID(), EventID: "evt_1", EventType: "order.paid"}

	first, err := s.RecordEvent(ctx, ev)
	require.NoError(t, err)
	second, err := s.RecordEvent(ctx, ev)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestConcurrentClaimsAdmitOne(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.RecordEvent(ctx, &webhook.Event{ID: id.NewWebhookEventID(), EventID: "evt_1"})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimEvent(ctx, "evt_1", time.Now())
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	ev, err := s.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessing, ev.Status)
	assert.Equal(t, 1, ev.Attempts)
}

func TestEventLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.RecordEvent(ctx, &webhook.Event{ID: id.NewWebhookEventID(), EventID: "evt_1"})
	require.NoError(t, err)

	ok, err := s.ClaimEvent(ctx, "evt_1", t0)
	require.NoError(t, err)
	require.True(t, ok)

	// Not stale yet.
	ok, err = s.ReclaimStaleEvent(ctx, "evt_1", t0.Add(-time.Minute), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	stale, err := s.ListStaleEvents(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	ok, err = s.ReclaimStaleEvent(ctx, "evt_1", t0.Add(time.Minute), t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.MarkEventFailed(ctx, "evt_1", "boom", t0.Add(11*time.Minute)))

	// Failed events can be claimed again.
	ok, err = s.ClaimEvent(ctx, "evt_1", t0.Add(12*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.MarkEventProcessed(ctx, "evt_1", t0.Add(13*time.Minute)))
	ev, err := s.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, ev.Status)
	assert.Empty(t, ev.Error)
	assert.Equal(t, 3, ev.Attempts)

	// Processed events stay processed.
	ok, err = s.ClaimEvent(ctx, "evt_1", t0.Add(14*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.MarkEventProcessed(ctx, "missing", t0), tally.ErrEventNotFound)
}

func TestPingAfterClose(t *testing.T) {
	s := New()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), tally.ErrStoreClosed)
}
