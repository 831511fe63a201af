package postgres

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tally/customer"
	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lot"
	"github.com/xraph/tally/order"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/usage"
	"github.com/xraph/tally/webhook"
)

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:tally_plans"`

	ID                 string    `grove:"id,pk"`
	Code               string    `grove:"plan_code"`
	Name               string    `grove:"name"`
	PlanType           string    `grove:"plan_type"`
	ProviderProductID  *string   `grove:"provider_product_id"`
	PriceCents         int64     `grove:"price_cents"`
	Currency           string    `grove:"currency"`
	BillingInterval    string    `grove:"billing_interval"`
	Version            int       `grove:"version"`
	QuotaSeconds       int64     `grove:"quota_seconds"`
	RolloverCapSeconds int64     `grove:"rollover_cap_seconds"`
	PackExpiryDays     int       `grove:"pack_expiry_days"`
	IsActive           bool      `grove:"is_active"`
	CreatedAt          time.Time `grove:"created_at"`
	UpdatedAt          time.Time `grove:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:                 p.ID.String(),
		Code:               p.Code,
		Name:               p.Name,
		PlanType:           string(p.Type),
		ProviderProductID:  nullString(p.ProviderProductID),
		PriceCents:         p.Price.Amount,
		Currency:           p.Price.Currency,
		BillingInterval:    p.BillingInterval,
		Version:            p.Version,
		QuotaSeconds:       p.QuotaSeconds,
		RolloverCapSeconds: p.RolloverCapSeconds,
		PackExpiryDays:     p.PackExpiryDays,
		IsActive:           p.Active,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	return &plan.Plan{
		Entity:             types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 planID,
		Code:               m.Code,
		Name:               m.Name,
		Type:               plan.Type(m.PlanType),
		ProviderProductID:  derefString(m.ProviderProductID),
		Price:              types.New(m.PriceCents, m.Currency),
		BillingInterval:    m.BillingInterval,
		Version:            m.Version,
		QuotaSeconds:       m.QuotaSeconds,
		RolloverCapSeconds: m.RolloverCapSeconds,
		PackExpiryDays:     m.PackExpiryDays,
		Active:             m.IsActive,
	}, nil
}

// ==================== Lot models ====================

type lotModel struct {
	grove.BaseModel `grove:"table:tally_credit_lots"`

	ID              string     `grove:"id,pk"`
	UserID          string     `grove:"user_id"`
	PlanID          *string    `grove:"plan_id"`
	LotType         string     `grove:"lot_type"`
	SourceKey       string     `grove:"source_key"`
	GrantedSeconds  int64      `grove:"granted_seconds"`
	ConsumedSeconds int64      `grove:"consumed_seconds"`
	RevokedSeconds  int64      `grove:"revoked_seconds"`
	ExpiresAt       *time.Time `grove:"expires_at"`
	Status          string     `grove:"status"`
	CreatedAt       time.Time  `grove:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"`
}

func toLotModel(l *lot.Lot) *lotModel {
	return &lotModel{
		ID:              l.ID.String(),
		UserID:          l.UserID,
		PlanID:          nullString(l.PlanID.String()),
		LotType:         string(l.Type),
		SourceKey:       l.SourceKey,
		GrantedSeconds:  l.GrantedSeconds,
		ConsumedSeconds: l.ConsumedSeconds,
		RevokedSeconds:  l.RevokedSeconds,
		ExpiresAt:       l.ExpiresAt,
		Status:          string(l.Status),
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

func fromLotModel(m *lotModel) (*lot.Lot, error) {
	lotID, err := id.ParseLotID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := parseOptionalPlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	return &lot.Lot{
		Entity:          types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              lotID,
		UserID:          m.UserID,
		PlanID:          planID,
		Type:            lot.Type(m.LotType),
		SourceKey:       m.SourceKey,
		GrantedSeconds:  m.GrantedSeconds,
		ConsumedSeconds: m.ConsumedSeconds,
		RevokedSeconds:  m.RevokedSeconds,
		ExpiresAt:       m.ExpiresAt,
		Status:          lot.Status(m.Status),
	}, nil
}

// ==================== Entitlement models ====================

type snapshotModel struct {
	grove.BaseModel `grove:"table:tally_entitlement_snapshots"`

	UserID                       string     `grove:"user_id,pk"`
	SubscriptionAvailableSeconds int64      `grove:"subscription_available_seconds"`
	PackAvailableSeconds         int64      `grove:"pack_available_seconds"`
	PackExpiresAt                *time.Time `grove:"pack_expires_at"`
	DebtSeconds                  int64      `grove:"debt_seconds"`
	IsBlocked                    bool       `grove:"is_blocked"`
	LastSyncAt                   *time.Time `grove:"last_sync_at"`
	UpdatedAt                    time.Time  `grove:"updated_at"`
}

func toSnapshotModel(s *entitlement.Snapshot) *snapshotModel {
	return &snapshotModel{
		UserID:                       s.UserID,
		SubscriptionAvailableSeconds: s.SubscriptionAvailableSeconds,
		PackAvailableSeconds:         s.PackAvailableSeconds,
		PackExpiresAt:                s.PackExpiresAt,
		DebtSeconds:                  s.DebtSeconds,
		IsBlocked:                    s.IsBlocked,
		LastSyncAt:                   s.LastSyncAt,
		UpdatedAt:                    s.UpdatedAt,
	}
}

func fromSnapshotModel(m *snapshotModel) *entitlement.Snapshot {
	return &entitlement.Snapshot{
		UserID:                       m.UserID,
		SubscriptionAvailableSeconds: m.SubscriptionAvailableSeconds,
		PackAvailableSeconds:         m.PackAvailableSeconds,
		PackExpiresAt:                m.PackExpiresAt,
		DebtSeconds:                  m.DebtSeconds,
		IsBlocked:                    m.IsBlocked,
		LastSyncAt:                   m.LastSyncAt,
		UpdatedAt:                    m.UpdatedAt,
	}
}

// ==================== Order models ====================

type orderModel struct {
	grove.BaseModel `grove:"table:tally_orders"`

	ID                     string    `grove:"id,pk"`
	ProviderOrderID        string    `grove:"provider_order_id"`
	UserID                 string    `grove:"user_id"`
	PlanID                 *string   `grove:"plan_id"`
	PlanType               string    `grove:"plan_type"`
	ProviderProductID      string    `grove:"provider_product_id"`
	ProviderSubscriptionID string    `grove:"provider_subscription_id"`
	PaidCents              int64     `grove:"paid_cents"`
	RefundedCents          int64     `grove:"refunded_cents"`
	Currency               string    `grove:"currency"`
	Status                 string    `grove:"status"`
	CreatedAt              time.Time `grove:"created_at"`
	UpdatedAt              time.Time `grove:"updated_at"`
}

func toOrderModel(o *order.Order) *orderModel {
	return &orderModel{
		ID:                     o.ID.String(),
		ProviderOrderID:        o.ProviderOrderID,
		UserID:                 o.UserID,
		PlanID:                 nullString(o.PlanID.String()),
		PlanType:               string(o.PlanType),
		ProviderProductID:      o.ProviderProductID,
		ProviderSubscriptionID: o.ProviderSubscriptionID,
		PaidCents:              o.Paid.Amount,
		RefundedCents:          o.Refunded.Amount,
		Currency:               o.Paid.Currency,
		Status:                 string(o.Status),
		CreatedAt:              o.CreatedAt,
		UpdatedAt:              o.UpdatedAt,
	}
}

func fromOrderModel(m *orderModel) (*order.Order, error) {
	orderID, err := id.ParseOrderID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := parseOptionalPlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	return &order.Order{
		Entity:                 types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                     orderID,
		ProviderOrderID:        m.ProviderOrderID,
		UserID:                 m.UserID,
		PlanID:                 planID,
		PlanType:               plan.Type(m.PlanType),
		ProviderProductID:      m.ProviderProductID,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		Paid:                   types.New(m.PaidCents, m.Currency),
		Refunded:               types.New(m.RefundedCents, m.Currency),
		Status:                 order.Status(m.Status),
	}, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:tally_usage_ledger"`

	ID          string    `grove:"id,pk"`
	UserID      string    `grove:"user_id"`
	JobID       *string   `grove:"job_id"`
	SecondsUsed int64     `grove:"seconds_used"`
	Source      string    `grove:"source"`
	CreatedAt   time.Time `grove:"created_at"`
}

func toUsageModel(e *usage.Entry) *usageModel {
	return &usageModel{
		ID:          e.ID.String(),
		UserID:      e.UserID,
		JobID:       nullString(e.JobID),
		SecondsUsed: e.SecondsUsed,
		Source:      string(e.Source),
		CreatedAt:   e.CreatedAt,
	}
}

func fromUsageModel(m *usageModel) (*usage.Entry, error) {
	usageID, err := id.ParseUsageID(m.ID)
	if err != nil {
		return nil, err
	}
	return &usage.Entry{
		ID:          usageID,
		UserID:      m.UserID,
		JobID:       derefString(m.JobID),
		SecondsUsed: m.SecondsUsed,
		Source:      usage.Source(m.Source),
		CreatedAt:   m.CreatedAt,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tally_subscription_states"`

	UserID                 string     `grove:"user_id,pk"`
	PlanID                 *string    `grove:"plan_id"`
	ProviderSubscriptionID string     `grove:"provider_subscription_id"`
	Status                 string     `grove:"status"`
	PeriodStart            *time.Time `grove:"period_start"`
	PeriodEnd              *time.Time `grove:"period_end"`
	CycleGrantSeconds      int64      `grove:"cycle_grant_seconds"`
	RolloverSeconds        int64      `grove:"rollover_seconds"`
	AvailableSeconds       int64      `grove:"available_seconds"`
	UpdatedAt              time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.State) *subscriptionModel {
	return &subscriptionModel{
		UserID:                 s.UserID,
		PlanID:                 nullString(s.PlanID.String()),
		ProviderSubscriptionID: s.ProviderSubscriptionID,
		Status:                 s.Status,
		PeriodStart:            s.PeriodStart,
		PeriodEnd:              s.PeriodEnd,
		CycleGrantSeconds:      s.CycleGrantSeconds,
		RolloverSeconds:        s.RolloverSeconds,
		AvailableSeconds:       s.AvailableSeconds,
		UpdatedAt:              s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.State, error) {
	planID, err := parseOptionalPlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	return &subscription.State{
		UserID:                 m.UserID,
		PlanID:                 planID,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		Status:                 m.Status,
		PeriodStart:            m.PeriodStart,
		PeriodEnd:              m.PeriodEnd,
		CycleGrantSeconds:      m.CycleGrantSeconds,
		RolloverSeconds:        m.RolloverSeconds,
		AvailableSeconds:       m.AvailableSeconds,
		UpdatedAt:              m.UpdatedAt,
	}, nil
}

// ==================== Customer models ====================

type customerModel struct {
	grove.BaseModel `grove:"table:tally_customers"`

	UserID             string    `grove:"user_id,pk"`
	ExternalCustomerID string    `grove:"external_customer_id"`
	ProviderCustomerID string    `grove:"provider_customer_id"`
	Email              string    `grove:"email"`
	Country            string    `grove:"country"`
	UpdatedAt          time.Time `grove:"updated_at"`
}

func toCustomerModel(c *customer.Customer) *customerModel {
	return &customerModel{
		UserID:             c.UserID,
		ExternalCustomerID: c.ExternalCustomerID,
		ProviderCustomerID: c.ProviderCustomerID,
		Email:              c.Email,
		Country:            c.Country,
		UpdatedAt:          c.UpdatedAt,
	}
}

func fromCustomerModel(m *customerModel) *customer.Customer {
	return &customer.Customer{
		UserID:             m.UserID,
		ExternalCustomerID: m.ExternalCustomerID,
		ProviderCustomerID: m.ProviderCustomerID,
		Email:              m.Email,
		Country:            m.Country,
		UpdatedAt:          m.UpdatedAt,
	}
}

// ==================== Webhook models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:tally_webhook_events"`

	ID          string          `grove:"id,pk"`
	EventID     string          `grove:"event_id"`
	Provider    string          `grove:"provider"`
	EventType   string          `grove:"event_type"`
	Payload     json.RawMessage `grove:"payload,type:jsonb"`
	Status      string          `grove:"status"`
	Attempts    int             `grove:"attempts"`
	ClaimedAt   *time.Time      `grove:"claimed_at"`
	ProcessedAt *time.Time      `grove:"processed_at"`
	Error       *string         `grove:"error"`
	CreatedAt   time.Time       `grove:"created_at"`
	UpdatedAt   time.Time       `grove:"updated_at"`
}

func toEventModel(e *webhook.Event) *eventModel {
	return &eventModel{
		ID:          e.ID.String(),
		EventID:     e.EventID,
		Provider:    e.Provider,
		EventType:   e.EventType,
		Payload:     e.Payload,
		Status:      string(e.Status),
		Attempts:    e.Attempts,
		ClaimedAt:   e.ClaimedAt,
		ProcessedAt: e.ProcessedAt,
		Error:       nullString(e.Error),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*webhook.Event, error) {
	eventID, err := id.ParseWebhookEventID(m.ID)
	if err != nil {
		return nil, err
	}
	return &webhook.Event{
		ID:          eventID,
		EventID:     m.EventID,
		Provider:    m.Provider,
		EventType:   m.EventType,
		Payload:     m.Payload,
		Status:      webhook.Status(m.Status),
		Attempts:    m.Attempts,
		ClaimedAt:   m.ClaimedAt,
		ProcessedAt: m.ProcessedAt,
		Error:       derefString(m.Error),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

// ==================== Helpers ====================

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseOptionalPlanID(s *string) (id.PlanID, error) {
	if s == nil || *s == "" {
		return id.Nil, nil
	}
	return id.ParsePlanID(*s)
}
