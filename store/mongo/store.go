package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

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

// Collection name constants.
const (
	colPlans         = "tally_plans"
	colLots          = "tally_credit_lots"
	colSnapshots     = "tally_entitlement_snapshots"
	colOrders        = "tally_orders"
	colUsage         = "tally_usage_ledger"
	colSubscriptions = "tally_subscription_states"
	colCustomers     = "tally_customers"
	colEvents        = "tally_webhook_events"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM. Conditional
// writes are single-document updates with the expected values in the
// filter; insert-if-absent relies on the unique indexes built by Migrate.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all tally collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mongo: %s indexes: %w", tally.ErrMigrationFailed, col, err)
		}
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
	_, err := s.mdb.NewInsert(toPlanModel(p)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tally.ErrAlreadyExists
		}
		return fmt.Errorf("tally/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrPlanNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanByProductID(ctx context.Context, productID string) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"provider_product_id": productID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrPlanNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get plan by product: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if opts.ActiveOnly {
		filter["is_active"] = true
	}
	if opts.Type != "" {
		filter["plan_type"] = string(opts.Type)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "price_cents", Value: 1}, {Key: "plan_code", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list plans: %w", err)
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
	m := toPlanModel(p)

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tally.ErrPlanNotFound
	}
	return nil
}

// ==================== Lot Store ====================

func (s *Store) InsertLot(ctx context.Context, l *lot.Lot) (*lot.Lot, bool, error) {
	_, err := s.mdb.NewInsert(toLotModel(l)).Exec(ctx)
	if err == nil {
		stored := *l
		return &stored, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("tally/mongo: insert lot: %w", err)
	}
	existing, err := s.GetLotBySource(ctx, l.Type, l.SourceKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error) {
	var m lotModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": lotID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrLotNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get lot: %w", err)
	}
	return fromLotModel(&m)
}

func (s *Store) GetLotBySource(ctx context.Context, t lot.Type, sourceKey string) (*lot.Lot, error) {
	var m lotModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"lot_type": string(t), "source_key": sourceKey}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrLotNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get lot by source: %w", err)
	}
	return fromLotModel(&m)
}

func (s *Store) ListActiveLots(ctx context.Context, userID string, t lot.Type) ([]*lot.Lot, error) {
	var models []lotModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"user_id":  userID,
			"lot_type": string(t),
			"status":   string(lot.StatusActive),
		}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list active lots: %w", err)
	}

	result := make([]*lot.Lot, len(models))
	for i := range models {
		l, err := fromLotModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = l
	}
	// MongoDB sorts missing expiries first; lots without one go last here.
	slices.SortStableFunc(result, compareLots)
	return result, nil
}

func (s *Store) CompareAndSwapLot(ctx context.Context, lotID id.LotID, expect lot.Expect, change lot.Change) (bool, error) {
	res, err := s.mdb.NewUpdate((*lotModel)(nil)).
		Filter(bson.M{
			"_id":              lotID.String(),
			"consumed_seconds": expect.ConsumedSeconds,
			"revoked_seconds":  expect.RevokedSeconds,
			"status":           string(expect.Status),
		}).
		Set("consumed_seconds", change.ConsumedSeconds).
		Set("revoked_seconds", change.RevokedSeconds).
		Set("status", string(change.Status)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/mongo: swap lot: %w", err)
	}
	return res.MatchedCount() == 1, nil
}

func (s *Store) ExpireActiveLots(ctx context.Context, userID string, t lot.Type) (int64, error) {
	res, err := s.mdb.Collection(colLots).UpdateMany(ctx,
		bson.M{
			"user_id":  userID,
			"lot_type": string(t),
			"status":   string(lot.StatusActive),
		},
		bson.M{"$set": bson.M{
			"status":     string(lot.StatusExpired),
			"updated_at": now(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("tally/mongo: expire lots: %w", err)
	}
	return res.ModifiedCount, nil
}

// ==================== Entitlement Store ====================

func (s *Store) GetSnapshot(ctx context.Context, userID string) (*entitlement.Snapshot, error) {
	var m snapshotModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get snapshot: %w", err)
	}
	return fromSnapshotModel(&m), nil
}

func (s *Store) EnsureSnapshot(ctx context.Context, userID string) error {
	_, err := s.mdb.Collection(colSnapshots).UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$setOnInsert": bson.M{
			"subscription_available_seconds": int64(0),
			"pack_available_seconds":         int64(0),
			"pack_expires_at":                nil,
			"debt_seconds":                   int64(0),
			"is_blocked":                     false,
			"last_sync_at":                   nil,
			"updated_at":                     now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("tally/mongo: ensure snapshot: %w", err)
	}
	return nil
}

func (s *Store) CompareAndSwapDebt(ctx context.Context, userID string, expectDebt, debt int64, blocked bool, at time.Time) (bool, error) {
	res, err := s.mdb.NewUpdate((*snapshotModel)(nil)).
		Filter(bson.M{"_id": userID, "debt_seconds": expectDebt}).
		Set("debt_seconds", debt).
		Set("is_blocked", blocked).
		Set("updated_at", at).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/mongo: swap debt: %w", err)
	}
	return res.MatchedCount() == 1, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snap *entitlement.Snapshot) (bool, error) {
	m := toSnapshotModel(snap)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": snap.UserID, "debt_seconds": snap.DebtSeconds}).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/mongo: save snapshot: %w", err)
	}
	if res.MatchedCount() == 1 {
		return true, nil
	}

	// Either the document is missing or its debt moved. Only the former
	// may be written.
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("tally/mongo: insert snapshot: %w", err)
	}
	return true, nil
}

// ==================== Order Store ====================

func (s *Store) InsertOrder(ctx context.Context, o *order.Order) (*order.Order, bool, error) {
	_, err := s.mdb.NewInsert(toOrderModel(o)).Exec(ctx)
	if err == nil {
		stored := *o
		return &stored, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("tally/mongo: insert order: %w", err)
	}
	existing, err := s.GetOrderByProviderID(ctx, o.ProviderOrderID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) GetOrderByProviderID(ctx context.Context, providerOrderID string) (*order.Order, error) {
	var m orderModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"provider_order_id": providerOrderID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrOrderNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get order: %w", err)
	}
	return fromOrderModel(&m)
}

func (s *Store) ListProviderOrderIDs(ctx context.Context, userID string, status order.Status) ([]string, error) {
	var models []orderModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"user_id": userID, "status": string(status)}).
		Sort(bson.D{{Key: "provider_order_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list orders: %w", err)
	}

	ids := make([]string, len(models))
	for i := range models {
		ids[i] = models[i].ProviderOrderID
	}
	return ids, nil
}

func (s *Store) TransitionOrderStatus(ctx context.Context, providerOrderID string, from, to order.Status) (bool, error) {
	res, err := s.mdb.NewUpdate((*orderModel)(nil)).
		Filter(bson.M{"provider_order_id": providerOrderID, "status": string(from)}).
		Set("status", string(to)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/mongo: transition order: %w", err)
	}
	return res.MatchedCount() == 1, nil
}

func (s *Store) UpdateOrderRefund(ctx context.Context, providerOrderID string, status order.Status, refunded types.Money) error {
	res, err := s.mdb.NewUpdate((*orderModel)(nil)).
		Filter(bson.M{"provider_order_id": providerOrderID}).
		Set("status", string(status)).
		Set("refunded_cents", refunded.Amount).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update order refund: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tally.ErrOrderNotFound
	}
	return nil
}

// ==================== Usage Store ====================

func (s *Store) InsertUsageEntry(ctx context.Context, e *usage.Entry) error {
	if _, err := s.mdb.NewInsert(toUsageModel(e)).Exec(ctx); err != nil {
		return fmt.Errorf("tally/mongo: insert usage: %w", err)
	}
	return nil
}

func (s *Store) ListUsageEntries(ctx context.Context, userID string, opts usage.ListOpts) ([]*usage.Entry, error) {
	var models []usageModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"user_id": userID}).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list usage: %w", err)
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
	m := toSubscriptionModel(st)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.UserID}).
		SetUpdate(bson.M{"$set": bson.M{
			"plan_id":                  m.PlanID,
			"provider_subscription_id": m.ProviderSubscriptionID,
			"status":                   m.Status,
			"period_start":             m.PeriodStart,
			"period_end":               m.PeriodEnd,
			"cycle_grant_seconds":      m.CycleGrantSeconds,
			"rollover_seconds":         m.RolloverSeconds,
			"available_seconds":        m.AvailableSeconds,
			"updated_at":               m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: upsert subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscriptionState(ctx context.Context, userID string) (*subscription.State, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

// UpsertCustomer writes the non-empty fields of c. Empty fields are only
// initialized when the document is created.
func (s *Store) UpsertCustomer(ctx context.Context, c *customer.Customer) error {
	set := bson.M{}
	onInsert := bson.M{}
	for field, value := range map[string]string{
		"external_customer_id": c.ExternalCustomerID,
		"provider_customer_id": c.ProviderCustomerID,
		"email":                c.Email,
		"country":              c.Country,
	} {
		if value != "" {
			set[field] = value
		} else {
			onInsert[field] = ""
		}
	}
	if !c.UpdatedAt.IsZero() {
		set["updated_at"] = c.UpdatedAt
	} else {
		onInsert["updated_at"] = now()
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(onInsert) > 0 {
		update["$setOnInsert"] = onInsert
	}

	_, err := s.mdb.NewUpdate((*customerModel)(nil)).
		Filter(bson.M{"_id": c.UserID}).
		SetUpdate(update).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: upsert customer: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, userID string) (*customer.Customer, error) {
	var m customerModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get customer: %w", err)
	}
	return fromCustomerModel(&m), nil
}

// ==================== Webhook Store ====================

func (s *Store) RecordEvent(ctx context.Context, e *webhook.Event) (bool, error) {
	m := toEventModel(e)
	m.Status = string(webhook.StatusReceived)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("tally/mongo: record event: %w", err)
	}
	return true, nil
}

func (s *Store) ClaimEvent(ctx context.Context, eventID string, at time.Time) (bool, error) {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{
			"event_id": eventID,
			"status": bson.M{"$in": []string{
				string(webhook.StatusReceived),
				string(webhook.StatusFailed),
			}},
		}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"status":       string(webhook.StatusProcessing),
				"claimed_at":   at,
				"processed_at": nil,
				"updated_at":   at,
			},
			"$unset": bson.M{"error": ""},
			"$inc":   bson.M{"attempts": 1},
		}).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/mongo: claim event: %w", err)
	}
	return res.MatchedCount() == 1, nil
}

func (s *Store) ReclaimStaleEvent(ctx context.Context, eventID string, cutoff, at time.Time) (bool, error) {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{
			"event_id":   eventID,
			"status":     string(webhook.StatusProcessing),
			"claimed_at": bson.M{"$lt": cutoff},
		}).
		SetUpdate(bson.M{
			"$set": bson.M{"claimed_at": at, "updated_at": at},
			"$inc": bson.M{"attempts": 1},
		}).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/mongo: reclaim event: %w", err)
	}
	return res.MatchedCount() == 1, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID string, at time.Time) error {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{"event_id": eventID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"status":       string(webhook.StatusProcessed),
				"processed_at": at,
				"updated_at":   at,
			},
			"$unset": bson.M{"error": ""},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: mark processed: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tally.ErrEventNotFound
	}
	return nil
}

func (s *Store) MarkEventFailed(ctx context.Context, eventID, errMsg string, at time.Time) error {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{"event_id": eventID}).
		Set("status", string(webhook.StatusFailed)).
		Set("processed_at", at).
		Set("error", webhook.TruncateError(errMsg)).
		Set("updated_at", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: mark failed: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tally.ErrEventNotFound
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*webhook.Event, error) {
	var m eventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"event_id": eventID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrEventNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListStaleEvents(ctx context.Context, cutoff time.Time, limit int) ([]*webhook.Event, error) {
	var models []eventModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":     string(webhook.StatusProcessing),
			"claimed_at": bson.M{"$lt": cutoff},
		}).
		Sort(bson.D{{Key: "claimed_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list stale events: %w", err)
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// compareLots orders by expiry (none last), then creation, then id.
func compareLots(a, b *lot.Lot) int {
	switch {
	case a.ExpiresAt == nil && b.ExpiresAt != nil:
		return 1
	case a.ExpiresAt != nil && b.ExpiresAt == nil:
		return -1
	case a.ExpiresAt != nil:
		if c := a.ExpiresAt.Compare(*b.ExpiresAt); c != 0 {
			return c
		}
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID.String() < b.ID.String():
		return -1
	case a.ID.String() > b.ID.String():
		return 1
	default:
		return 0
	}
}

// migrationIndexes returns the index definitions for all tally collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPlans: {
			{
				Keys:    bson.D{{Key: "provider_product_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "plan_type", Value: 1}}},
		},
		colLots: {
			{
				Keys:    bson.D{{Key: "lot_type", Value: 1}, {Key: "source_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "lot_type", Value: 1}, {Key: "status", Value: 1}}},
		},
		colSnapshots: nil,
		colOrders: {
			{
				Keys:    bson.D{{Key: "provider_order_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		colUsage: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colSubscriptions: nil,
		colCustomers:     nil,
		colEvents: {
			{
				Keys:    bson.D{{Key: "event_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "claimed_at", Value: 1}}},
		},
	}
}
