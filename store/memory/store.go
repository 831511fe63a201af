// Package memory is an in-process store for tests and single-instance
// development. Rows are copied in and out so callers never share state
// with the store, which keeps compare-and-swap semantics honest.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/customer"
	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/usage"
	"github.com/xraph/tally/webhook"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

type sourceKey struct {
	t   lot.Type
	key string
}

type Store struct {
	mu sync.RWMutex

	// Plan storage
	plans map[string]*plan.Plan

	// Lot storage, indexed by id and by (type, source key)
	lots      map[string]*lot.Lot
	lotsBySrc map[sourceKey]string

	snapshots map[string]*entitlement.Snapshot
	orders    map[string]*order.Order // by provider order id
	entries   []*usage.Entry
	subs      map[string]*subscription.State
	customers map[string]*customer.Customer
	events    map[string]*webhook.Event // by provider event id
	closed    bool
}

func New() *Store {
	return &Store{
		plans:     make(map[string]*plan.Plan),
		lots:      make(map[string]*lot.Lot),
		lotsBySrc: make(map[sourceKey]string),
		snapshots: make(map[string]*entitlement.Snapshot),
		orders:    make(map[string]*order.Order),
		subs:      make(map[string]*subscription.State),
		customers: make(map[string]*customer.Customer),
		events:    make(map[string]*webhook.Event),
	}
}

// ──────────────────────────────────────────────────
// Plan Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	for _, existing := range s.plans {
		if p.ProviderProductID != "" && existing.ProviderProductID == p.ProviderProductID {
			return tally.ErrAlreadyExists
		}
	}
	cp := *p
	s.plans[p.ID.String()] = &cp
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, tally.ErrPlanNotFound
}

func (s *Store) GetPlanByProductID(_ context.Context, productID string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.ProviderProductID == productID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, tally.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if opts.ActiveOnly && !p.Active {
			continue
		}
		if opts.Type != "" && p.Type != opts.Type {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Price.Amount != result[j].Price.Amount {
			return result[i].Price.Amount < result[j].Price.Amount
		}
		return result[i].Code < result[j].Code
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; !exists {
		return tally.ErrPlanNotFound
	}
	cp := *p
	s.plans[p.ID.String()] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Lot Store implementation
// ──────────────────────────────────────────────────

func (s *Store) InsertLot(_ context.Context, l *lot.Lot) (*lot.Lot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sourceKey{l.Type, l.SourceKey}
	if existingID, ok := s.lotsBySrc[k]; ok {
		return copyLot(s.lots[existingID]), false, nil
	}
	stored := copyLot(l)
	s.lots[l.ID.String()] = stored
	s.lotsBySrc[k] = l.ID.String()
	return copyLot(stored), true, nil
}

func (s *Store) GetLot(_ context.Context, lotID id.LotID) (*lot.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l, ok := s.lots[lotID.String()]; ok {
		return copyLot(l), nil
	}
	return nil, tally.ErrLotNotFound
}

func (s *Store) GetLotBySource(_ context.Context, t lot.Type, key string) (*lot.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lotID, ok := s.lotsBySrc[sourceKey{t, key}]; ok {
		return copyLot(s.lots[lotID]), nil
	}
	return nil, tally.ErrLotNotFound
}

func (s *Store) ListActiveLots(_ context.Context, userID string, t lot.Type) ([]*lot.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*lot.Lot, 0)
	for _, l := range s.lots {
		if l.UserID == userID && l.Type == t && l.Status == lot.StatusActive {
			result = append(result, copyLot(l))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return result, nil
}

func (s *Store) CompareAndSwapLot(_ context.Context, lotID id.LotID, expect lot.Expect, change lot.Change) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lots[lotID.String()]
	if !ok {
		return false, nil
	}
	if lot.ExpectOf(l) != expect {
		return false, nil
	}
	l.ConsumedSeconds = change.ConsumedSeconds
	l.RevokedSeconds = change.RevokedSeconds
	l.Status = change.Status
	l.Touch(time.Now())
	return true, nil
}

func (s *Store) ExpireActiveLots(_ context.Context, userID string, t lot.Type) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now()
	for _, l := range s.lots {
		if l.UserID == userID && l.Type == t && l.Status == lot.StatusActive {
			l.Status = lot.StatusExpired
			l.Touch(now)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Entitlement Store implementation
// ──────────────────────────────────────────────────

func (s *Store) GetSnapshot(_ context.Context, userID string) (*entitlement.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if snap, ok := s.snapshots[userID]; ok {
		cp := *snap
		return &cp, nil
	}
	return nil, tally.ErrSnapshotNotFound
}

func (s *Store) EnsureSnapshot(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[userID]; !ok {
		s.snapshots[userID] = &entitlement.Snapshot{UserID: userID, UpdatedAt: time.Now().UTC()}
	}
	return nil
}

func (s *Store) CompareAndSwapDebt(_ context.Context, userID string, expectDebt, debt int64, blocked bool, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[userID]
	if !ok || snap.DebtSeconds != expectDebt {
		return false, nil
	}
	snap.DebtSeconds = debt
	snap.IsBlocked = blocked
	snap.UpdatedAt = at
	return true, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap *entitlement.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.snapshots[snap.UserID]; ok && existing.DebtSeconds != snap.DebtSeconds {
		return false, nil
	}
	cp := *snap
	s.snapshots[snap.UserID] = &cp
	return true, nil
}

// ──────────────────────────────────────────────────
// Order Store implementation
// ──────────────────────────────────────────────────

func (s *Store) InsertOrder(_ context.Context, o *order.Order) (*order.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[o.ProviderOrderID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	stored := *o
	s.orders[o.ProviderOrderID] = &stored
	cp := stored
	return &cp, true, nil
}

func (s *Store) GetOrderByProviderID(_ context.Context, providerOrderID string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.orders[providerOrderID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, tally.ErrOrderNotFound
}

func (s *Store) ListProviderOrderIDs(_ context.Context, userID string, status order.Status) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for _, o := range s.orders {
		if o.UserID == userID && o.Status == status {
			ids = append(ids, o.ProviderOrderID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) TransitionOrderStatus(_ context.Context, providerOrderID string, from, to order.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[providerOrderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.Touch(time.Now())
	return true, nil
}

func (s *Store) UpdateOrderRefund(_ context.Context, providerOrderID string, status order.Status, refunded types.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[providerOrderID]
	if !ok {
		return tally.ErrOrderNotFound
	}
	o.Status = status
	o.Refunded = refunded
	o.Touch(time.Now())
	return nil
}

// ──────────────────────────────────────────────────
// Usage Store implementation
// ──────────────────────────────────────────────────

func (s *Store) InsertUsageEntry(_ context.Context, e *usage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *Store) ListUsageEntries(_ context.Context, userID string, opts usage.ListOpts) ([]*usage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*usage.Entry, 0)
	// Appended in insertion order; walk backwards for newest first.
	for i := len(s.entries) - 1; i >= 0; i-- {
		if e := s.entries[i]; e.UserID == userID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Subscription and customer Store implementation
// ──────────────────────────────────────────────────

func (s *Store) UpsertSubscriptionState(_ context.Context, st *subscription.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *st
	s.subs[st.UserID] = &cp
	return nil
}

func (s *Store) GetSubscriptionState(_ context.Context, userID string) (*subscription.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.subs[userID]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, tally.ErrSubscriptionNotFound
}

func (s *Store) UpsertCustomer(_ context.Context, c *customer.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[c.UserID]
	if !ok {
		existing = &customer.Customer{UserID: c.UserID}
		s.customers[c.UserID] = existing
	}
	existing.Merge(c)
	return nil
}

func (s *Store) GetCustomer(_ context.Context, userID string) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.customers[userID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, tally.ErrCustomerNotFound
}

// ──────────────────────────────────────────────────
// Webhook Store implementation
// ──────────────────────────────────────────────────

func (s *Store) RecordEvent(_ context.Context, e *webhook.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.EventID]; exists {
		return false, nil
	}
	cp := copyEvent(e)
	cp.Status = webhook.StatusReceived
	s.events[e.EventID] = cp
	return true, nil
}

func (s *Store) ClaimEvent(_ context.Context, eventID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok || !e.Claimable() {
		return false, nil
	}
	e.Status = webhook.StatusProcessing
	e.Attempts++
	e.ClaimedAt = &now
	e.ProcessedAt = nil
	e.Error = ""
	e.UpdatedAt = now
	return true, nil
}

func (s *Store) ReclaimStaleEvent(_ context.Context, eventID string, cutoff, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok || !e.IsStale(cutoff) {
		return false, nil
	}
	e.Attempts++
	e.ClaimedAt = &now
	e.UpdatedAt = now
	return true, nil
}

func (s *Store) MarkEventProcessed(_ context.Context, eventID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return tally.ErrEventNotFound
	}
	e.Status = webhook.StatusProcessed
	e.ProcessedAt = &now
	e.Error = ""
	e.UpdatedAt = now
	return nil
}

func (s *Store) MarkEventFailed(_ context.Context, eventID, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return tally.ErrEventNotFound
	}
	e.Status = webhook.StatusFailed
	e.ProcessedAt = &now
	e.Error = webhook.TruncateError(errMsg)
	e.UpdatedAt = now
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.events[eventID]; ok {
		return copyEvent(e), nil
	}
	return nil, tally.ErrEventNotFound
}

func (s *Store) ListStaleEvents(_ context.Context, cutoff time.Time, limit int) ([]*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*webhook.Event, 0)
	for _, e := range s.events {
		if e.IsStale(cutoff) {
			result = append(result, copyEvent(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClaimedAt.Before(*result[j].ClaimedAt)
	})
	return paginate(result, 0, limit), nil
}

// ──────────────────────────────────────────────────
// Store management
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return tally.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Helper functions

func copyLot(l *lot.Lot) *lot.Lot {
	cp := *l
	if l.ExpiresAt != nil {
		at := *l.ExpiresAt
		cp.ExpiresAt = &at
	}
	return &cp
}

func copyEvent(e *webhook.Event) *webhook.Event {
	cp := *e
	cp.Payload = slices.Clone(e.Payload)
	return &cp
}

func paginate[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
