package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/usage"
	"github.com/xraph/tally/webhook"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry holds plugins and caches which hooks each one implements.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit             []OnInit
	onShutdown         []OnShutdown
	onLotGranted       []OnLotGranted
	onLotRevoked       []OnLotRevoked
	onUsageRecorded    []OnUsageRecorded
	onDebtChanged      []OnDebtChanged
	onSnapshotSynced   []OnSnapshotSynced
	onRefundRequested  []OnRefundRequested
	onOrderRefunded    []OnOrderRefunded
	onWebhookProcessed []OnWebhookProcessed
	onWebhookFailed    []OnWebhookFailed
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout overrides DefaultTimeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin and caches its hooks. Names must be unique.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnLotGranted); ok {
		r.onLotGranted = append(r.onLotGranted, v)
		hooks = append(hooks, "OnLotGranted")
	}
	if v, ok := p.(OnLotRevoked); ok {
		r.onLotRevoked = append(r.onLotRevoked, v)
		hooks = append(hooks, "OnLotRevoked")
	}
	if v, ok := p.(OnUsageRecorded); ok {
		r.onUsageRecorded = append(r.onUsageRecorded, v)
		hooks = append(hooks, "OnUsageRecorded")
	}
	if v, ok := p.(OnDebtChanged); ok {
		r.onDebtChanged = append(r.onDebtChanged, v)
		hooks = append(hooks, "OnDebtChanged")
	}
	if v, ok := p.(OnSnapshotSynced); ok {
		r.onSnapshotSynced = append(r.onSnapshotSynced, v)
		hooks = append(hooks, "OnSnapshotSynced")
	}
	if v, ok := p.(OnRefundRequested); ok {
		r.onRefundRequested = append(r.onRefundRequested, v)
		hooks = append(hooks, "OnRefundRequested")
	}
	if v, ok := p.(OnOrderRefunded); ok {
		r.onOrderRefunded = append(r.onOrderRefunded, v)
		hooks = append(hooks, "OnOrderRefunded")
	}
	if v, ok := p.(OnWebhookProcessed); ok {
		r.onWebhookProcessed = append(r.onWebhookProcessed, v)
		hooks = append(hooks, "OnWebhookProcessed")
	}
	if v, ok := p.(OnWebhookFailed); ok {
		r.onWebhookFailed = append(r.onWebhookFailed, v)
		hooks = append(hooks, "OnWebhookFailed")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name, or nil.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins in registration order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshotOf(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshotOf(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

func (r *Registry) EmitLotGranted(ctx context.Context, l *lot.Lot) {
	emit(ctx, r, "OnLotGranted", snapshotOf(r, &r.onLotGranted), func(p OnLotGranted) error {
		return p.OnLotGranted(ctx, l)
	})
}

func (r *Registry) EmitLotRevoked(ctx context.Context, lotID string, revoked int64) {
	emit(ctx, r, "OnLotRevoked", snapshotOf(r, &r.onLotRevoked), func(p OnLotRevoked) error {
		return p.OnLotRevoked(ctx, lotID, revoked)
	})
}

func (r *Registry) EmitUsageRecorded(ctx context.Context, userID string, entries []*usage.Entry, unmet int64) {
	emit(ctx, r, "OnUsageRecorded", snapshotOf(r, &r.onUsageRecorded), func(p OnUsageRecorded) error {
		return p.OnUsageRecorded(ctx, userID, entries, unmet)
	})
}

func (r *Registry) EmitDebtChanged(ctx context.Context, userID string, before, after int64, blocked bool) {
	emit(ctx, r, "OnDebtChanged", snapshotOf(r, &r.onDebtChanged), func(p OnDebtChanged) error {
		return p.OnDebtChanged(ctx, userID, before, after, blocked)
	})
}

func (r *Registry) EmitSnapshotSynced(ctx context.Context, s *entitlement.Snapshot) {
	emit(ctx, r, "OnSnapshotSynced", snapshotOf(r, &r.onSnapshotSynced), func(p OnSnapshotSynced) error {
		return p.OnSnapshotSynced(ctx, s)
	})
}

func (r *Registry) EmitRefundRequested(ctx context.Context, o *order.Order, amount types.Money, refundID string) {
	emit(ctx, r, "OnRefundRequested", snapshotOf(r, &r.onRefundRequested), func(p OnRefundRequested) error {
		return p.OnRefundRequested(ctx, o, amount, refundID)
	})
}

func (r *Registry) EmitOrderRefunded(ctx context.Context, o *order.Order) {
	emit(ctx, r, "OnOrderRefunded", snapshotOf(r, &r.onOrderRefunded), func(p OnOrderRefunded) error {
		return p.OnOrderRefunded(ctx, o)
	})
}

func (r *Registry) EmitWebhookProcessed(ctx context.Context, e *webhook.Event, elapsed time.Duration) {
	emit(ctx, r, "OnWebhookProcessed", snapshotOf(r, &r.onWebhookProcessed), func(p OnWebhookProcessed) error {
		return p.OnWebhookProcessed(ctx, e, elapsed)
	})
}

func (r *Registry) EmitWebhookFailed(ctx context.Context, e *webhook.Event, cause error) {
	emit(ctx, r, "OnWebhookFailed", snapshotOf(r, &r.onWebhookFailed), func(p OnWebhookFailed) error {
		return p.OnWebhookFailed(ctx, e, cause)
	})
}

// snapshotOf copies a hook slice under the read lock.
func snapshotOf[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(*list))
	copy(out, *list)
	return out
}

func emit[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, call func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return call(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout runs fn but stops waiting after the registry timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
