package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the pg migrate executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tally"
	"github.com/xraph/tally/customer"
	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/plan"
	tallystore "github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/usage"
	"github.com/xraph/tally/webhook"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM. Every
// conditional write is a single UPDATE guarded in its WHERE clause, so
// compare-and-swap holds under READ COMMITTED without explicit locks.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("tally/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", tally.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	res, err := s.pg.NewInsert(toPlanModel(p)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/postgres: create plan: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tally.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrPlanNotFound
		}
		return nil, fmt.Errorf("tally/postgres: get plan: %w", err)
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanByProductID(ctx context.Context, productID string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("provider_product_id = $1", productID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrPlanNotFound
		}
		return nil, fmt.Errorf("tally/postgres: get plan by product: %w", err)
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.ActiveOnly {
		q = q.Where("is_active = TRUE")
	}
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("plan_type = $%d", argIdx), string(opts.Type))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("price_cents ASC, plan_code ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/postgres: list plans: %w", err)
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	res, err := s.pg.NewUpdate(toPlanModel(p)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/postgres: update plan: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tally.ErrPlanNotFound
	}
	return nil
}

// ==================== Lot Store ====================

func (s *Store) InsertLot(ctx context.Context, l *lot.Lot) (*lot.Lot, bool, error) {
	res, err := s.pg.NewInsert(toLotModel(l)).
		OnConflict("(lot_type, source_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("tally/postgres: insert lot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	stored, err := s.GetLotBySource(ctx, l.Type, l.SourceKey)
	if err != nil {
		return nil, false, err
	}
	return stored, rows == 1, nil
}

func (s *Store) GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error) {
	m := new(lotModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", lotID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrLotNotFound
		}
		return nil, fmt.Errorf("tally/postgres: get lot: %w", err)
	}
	return fromLotModel(m)
}

func (s *Store) GetLotBySource(ctx context.Context, t lot.Type, sourceKey string) (*lot.Lot, error) {
	m := new(lotModel)
	err := s.pg.NewSelect(m).
		Where("lot_type = $1", string(t)).
		Where("source_key = $2", sourceKey).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrLotNotFound
		}
		return nil, fmt.Errorf("tally/postgres: get lot by source: %w", err)
	}
	return fromLotModel(m)
}

func (s *Store) ListActiveLots(ctx context.Context, userID string, t lot.Type) ([]*lot.Lot, error) {
	var models []lotModel
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		Where("lot_type = $2", string(t)).
		Where("status = $3", string(lot.StatusActive)).
		OrderExpr("expires_at ASC NULLS LAST, created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/postgres: list active lots: %w", err)
	}

	result := make([]*lot.Lot, len(models))
	for i := range models {
		l, err := fromLotModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = l
	}
	return result, nil
}

func (s *Store) CompareAndSwapLot(ctx context.Context, lotID id.LotID, expect lot.Expect, change lot.Change) (bool, error) {
	res, err := s.pg.NewUpdate((*lotModel)(nil)).
		Set("consumed_seconds = $1", change.ConsumedSeconds).
		Set("revoked_seconds = $2", change.RevokedSeconds).
		Set("status = $3", string(change.Status)).
		Set("updated_at = $4", now()).
		Where("id = $5", lotID.String()).
		Where("consumed_seconds = $6", expect.ConsumedSeconds).
		Where("revoked_seconds = $7", expect.RevokedSeconds).
		Where("status = $8", string(expect.Status)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/postgres: swap lot: %w", err)
	}
	return affectedOne(res)
}

func (s *Store) ExpireActiveLots(ctx context.Context, userID string, t lot.Type) (int64, error) {
	res, err := s.pg.NewUpdate((*lotModel)(nil)).
		Set("status = $1", string(lot.StatusExpired)).
		Set("updated_at = $2", now()).
		Where("user_id = $3", userID).
		Where("lot_type = $4", string(t)).
		Where("status = $5", string(lot.StatusActive)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("tally/postgres: expire lots: %w", err)
	}
	return res.RowsAffected()
}

// ==================== Entitlement Store ====================

func (s *Store) GetSnapshot(ctx context.Context, userID string) (*entitlement.Snapshot, error) {
	m := new(snapshotModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("tally/postgres: get snapshot: %w", err)
	}
	return fromSnapshotModel(m), nil
}

func (s *Store) EnsureSnapshot(ctx context.Context, userID string) error {
	m := &snapshotModel{UserID: userID, UpdatedAt: now()}
	_, err := s.pg.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/postgres: ensure snapshot: %w", err)
	}
	return nil
}

func (s *Store) CompareAndSwapDebt(ctx context.Context, userID string, expectDebt, debt int64, blocked bool, at time.Time) (bool, error) {
	res, err := s.pg.NewUpdate((*snapshotModel)(nil)).
		Set("debt_seconds = $1", debt).
		Set("is_blocked = $2", blocked).
		Set("updated_at = $3", at).
		Where("user_id = $4", userID).
		Where("debt_seconds = $5", expectDebt).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/postgres: swap debt: %w", err)
	}
	return affectedOne(res)
}

func (s *Store) SaveSnapshot(ctx context.Context, snap *entitlement.Snapshot) (bool, error) {
	res, err := s.pg.NewUpdate((*snapshotModel)(nil)).
		Set("subscription_available_seconds = $1", snap.SubscriptionAvailableSeconds).
		Set("pack_available_seconds = $2", snap.PackAvailableSeconds).
		Set("pack_expires_at = $3", snap.PackExpiresAt).
		Set("is_blocked = $4", snap.IsBlocked).
		Set("last_sync_at = $5", snap.LastSyncAt).
		Set("updated_at = $6", snap.UpdatedAt).
		Where("user_id = $7", snap.UserID).
		Where("debt_seconds = $8", snap.DebtSeconds).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/postgres: save snapshot: %w", err)
	}
	if ok, err := affectedOne(res); err != nil || ok {
		return ok, err
	}

	// Either the row is missing or its debt moved. Only the former may
	// be written.
	res, err = s.pg.NewInsert(toSnapshotModel(snap)).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/postgres: insert snapshot: %w", err)
	}
	return affectedOne(res)
}

// ==================== Order Store ====================

func (s *Store) InsertOrder(ctx context.Context, o *order.Order) (*order.Order, bool, error) {
	res, err := s.pg.NewInsert(toOrderModel(o)).
		OnConflict("(provider_order_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("tally/postgres: insert order: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	stored, err := s.GetOrderByProviderID(ctx, o.ProviderOrderID)
	if err != nil {
		return nil, false, err
	}
	return stored, rows == 1, nil
}

func (s *Store) GetOrderByProviderID(ctx context.Context, providerOrderID string) (*order.Order, error) {
	m := new(orderModel)
	err := s.pg.NewSelect(m).
		Where("provider_order_id = $1", providerOrderID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrOrderNotFound
		}
		return nil, fmt.Errorf("tally/postgres: get order: %w", err)
	}
	return fromOrderModel(m)
}

func (s *Store) ListProviderOrderIDs(ctx context.Context, userID string, status order.Status) ([]string, error) {
	var models []orderModel
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		Where("status = $2", string(status)).
		OrderExpr("provider_order_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/postgres: list orders: %w", err)
	}

	ids := make([]string, len(models))
	for i := range models {
		ids[i] = models[i].ProviderOrderID
	}
	return ids, nil
}

func (s *Store) TransitionOrderStatus(ctx context.Context, providerOrderID string, from, to order.Status) (bool, error) {
	res, err := s.pg.NewUpdate((*orderModel)(nil)).
		Set("status = $1", string(to)).
		Set("updated_at = $2", now()).
		Where("provider_order_id = $3", providerOrderID).
		Where("status = $4", string(from)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/postgres: transition order: %w", err)
	}
	return affectedOne(res)
}

func (s *Store) UpdateOrderRefund(ctx context.Context, providerOrderID string, status order.Status, refunded types.Money) error {
	res, err := s.pg.NewUpdate((*orderModel)(nil)).
		Set("status = $1", string(status)).
		Set("refunded_cents = $2", refunded.Amount).
		Set("updated_at = $3", now()).
		Where("provider_order_id = $4", providerOrderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/postgres: update order refund: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return tally.ErrOrderNotFound
	}
	return nil
}

// ==================== Usage Store ====================

func (s *Store) InsertUsageEntry(ctx context.Context, e *usage.Entry) error {
	if _, err := s.pg.NewInsert(toUsageModel(e)).Exec(ctx); err != nil {
		return fmt.Errorf("tally/postgres: insert usage: %w", err)
	}
	return nil
}

func (s *Store) ListUsageEntries(ctx context.Context, userID string, opts usage.ListOpts) ([]*usage.Entry, error) {
	var models []usageModel
	q := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/postgres: list usage: %w", err)
	}

	result := make([]*usage.Entry, len(models))
	for i := range models {
		e, err := fromUsageModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Subscription & Customer Store ====================

func (s *Store) UpsertSubscriptionState(ctx context.Context, st *subscription.State) error {
	_, err := s.pg.NewInsert(toSubscriptionModel(st)).
		OnConflict("(user_id) DO UPDATE").
		Set("plan_id = EXCLUDED.plan_id").
		Set("provider_subscription_id = EXCLUDED.provider_subscription_id").
		Set("status = EXCLUDED.status").
		Set("period_start = EXCLUDED.period_start").
		Set("period_end = EXCLUDED.period_end").
		Set("cycle_grant_seconds = EXCLUDED.cycle_grant_seconds").
		Set("rollover_seconds = EXCLUDED.rollover_seconds").
		Set("available_seconds = EXCLUDED.available_seconds").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/postgres: upsert subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscriptionState(ctx context.Context, userID string) (*subscription.State, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("tally/postgres: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpsertCustomer(ctx context.Context, c *customer.Customer) error {
	_, err := s.pg.NewInsert(toCustomerModel(c)).
		OnConflict("(user_id) DO UPDATE").
		Set("external_customer_id = COALESCE(NULLIF(EXCLUDED.external_customer_id, ''), tally_customers.external_customer_id)").
		Set("provider_customer_id = COALESCE(NULLIF(EXCLUDED.provider_customer_id, ''), tally_customers.provider_customer_id)").
		Set("email = COALESCE(NULLIF(EXCLUDED.email, ''), tally_customers.email)").
		Set("country = COALESCE(NULLIF(EXCLUDED.country, ''), tally_customers.country)").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/postgres: upsert customer: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, userID string) (*customer.Customer, error) {
	m := new(customerModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("tally/postgres: get customer: %w", err)
	}
	return fromCustomerModel(m), nil
}

// ==================== Webhook Store ====================

func (s *Store) RecordEvent(ctx context.Context, e *webhook.Event) (bool, error) {
	m := toEventModel(e)
	m.Status = string(webhook.StatusReceived)
	res, err := s.pg.NewInsert(m).
		OnConflict("(event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/postgres: record event: %w", err)
	}
	return affectedOne(res)
}

func (s *Store) ClaimEvent(ctx context.Context, eventID string, at time.Time) (bool, error) {
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = $1", string(webhook.StatusProcessing)).
		Set("attempts = attempts + 1").
		Set("claimed_at = $2", at).
		Set("processed_at = NULL").
		Set("error = NULL").
		Set("updated_at = $3", at).
		Where("event_id = $4", eventID).
		Where("status IN ($5, $6)", string(webhook.StatusReceived), string(webhook.StatusFailed)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/postgres: claim event: %w", err)
	}
	return affectedOne(res)
}

func (s *Store) ReclaimStaleEvent(ctx context.Context, eventID string, cutoff, at time.Time) (bool, error) {
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("attempts = attempts + 1").
		Set("claimed_at = $1", at).
		Set("updated_at = $2", at).
		Where("event_id = $3", eventID).
		Where("status = $4", string(webhook.StatusProcessing)).
		Where("claimed_at < $5", cutoff).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/postgres: reclaim event: %w", err)
	}
	return affectedOne(res)
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID string, at time.Time) error {
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = $1", string(webhook.StatusProcessed)).
		Set("processed_at = $2", at).
		Set("error = NULL").
		Set("updated_at = $3", at).
		Where("event_id = $4", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/postgres: mark processed: %w", err)
	}
	return eventFound(res)
}

func (s *Store) MarkEventFailed(ctx context.Context, eventID, errMsg string, at time.Time) error {
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = $1", string(webhook.StatusFailed)).
		Set("processed_at = $2", at).
		Set("error = $3", webhook.TruncateError(errMsg)).
		Set("updated_at = $4", at).
		Where("event_id = $5", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/postgres: mark failed: %w", err)
	}
	return eventFound(res)
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*webhook.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("event_id = $1", eventID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrEventNotFound
		}
		return nil, fmt.Errorf("tally/postgres: get event: %w", err)
	}
	return fromEventModel(m)
}

func (s *Store) ListStaleEvents(ctx context.Context, cutoff time.Time, limit int) ([]*webhook.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(webhook.StatusProcessing)).
		Where("claimed_at < $2", cutoff).
		OrderExpr("claimed_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/postgres: list stale events: %w", err)
	}

	result := make([]*webhook.Event, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// result is the part of a driver exec result the store reads.
type result interface {
	RowsAffected() (int64, error)
}

func affectedOne(res result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func eventFound(res result) error {
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return tally.ErrEventNotFound
	}
	return nil
}
