package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/lot"
)

type grantCounter struct {
	name  string
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (g *grantCounter) Name() string { return g.name }

func (g *grantCounter) OnLotGranted(_ context.Context, _ *lot.Lot) error {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.calls.Add(1)
	return g.err
}

type nameOnly struct{ name string }

func (n nameOnly) Name() string { return n.name }

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := quietRegistry()

	require.NoError(t, r.Register(&grantCounter{name: "metrics"}))
	require.Error(t, r.Register(nameOnly{name: "metrics"}))
	require.NoError(t, r.Register(nameOnly{name: "audit"}))

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, "metrics", r.List()[0].Name())
	assert.NotNil(t, r.Get("audit"))
	assert.Nil(t, r.Get("missing"))
}

func TestEmitOnlyReachesImplementers(t *testing.T) {
	r := quietRegistry()
	g := &grantCounter{name: "grants"}

	require.NoError(t, r.Register(g))
	require.NoError(t, r.Register(nameOnly{name: "passive"}))

	r.EmitLotGranted(context.Background(), &lot.Lot{})
	r.EmitLotRevoked(context.Background(), "lot_1", 10)

	assert.Equal(t, int32(1), g.calls.Load())
}

func TestFailingHookDoesNotStopOthers(t *testing.T) {
	r := quietRegistry()
	failing := &grantCounter{name: "failing", err: errors.New("boom")}
	healthy := &grantCounter{name: "healthy"}

	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(healthy))

	r.EmitLotGranted(context.Background(), &lot.Lot{})

	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), healthy.calls.Load())
}

func TestSlowHookTimesOut(t *testing.T) {
	r := quietRegistry().WithTimeout(10 * time.Millisecond)
	slow := &grantCounter{name: "slow", delay: 200 * time.Millisecond}
	require.NoError(t, r.Register(slow))

	start := time.Now()
	r.EmitLotGranted(context.Background(), &lot.Lot{})

	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
