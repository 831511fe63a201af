package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the tally store.
var Migrations = migrate.NewGroup("tally")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tally_plans",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_plans (
    id                   TEXT PRIMARY KEY,
    plan_code            TEXT NOT NULL,
    name                 TEXT NOT NULL DEFAULT '',
    plan_type            TEXT NOT NULL,
    provider_product_id  TEXT UNIQUE,
    price_cents          INTEGER NOT NULL DEFAULT 0,
    currency             TEXT NOT NULL DEFAULT 'usd',
    billing_interval     TEXT NOT NULL DEFAULT '',
    version              INTEGER NOT NULL DEFAULT 1,
    quota_seconds        INTEGER NOT NULL DEFAULT 0,
    rollover_cap_seconds INTEGER NOT NULL DEFAULT 0,
    pack_expiry_days     INTEGER NOT NULL DEFAULT 0,
    is_active            INTEGER NOT NULL DEFAULT 1,
    created_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CONSTRAINT tally_plans_type_chk CHECK (plan_type IN ('subscription', 'pack'))
);

CREATE INDEX IF NOT EXISTS idx_tally_plans_active ON tally_plans (is_active, plan_type);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_credit_lots",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_credit_lots (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    plan_id          TEXT,
    lot_type         TEXT NOT NULL,
    source_key       TEXT NOT NULL,
    granted_seconds  INTEGER NOT NULL,
    consumed_seconds INTEGER NOT NULL DEFAULT 0,
    revoked_seconds  INTEGER NOT NULL DEFAULT 0,
    expires_at       TIMESTAMP,
    status           TEXT NOT NULL DEFAULT 'active',
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CONSTRAINT tally_lots_amounts_chk CHECK (
        granted_seconds >= 0 AND consumed_seconds >= 0 AND revoked_seconds >= 0
    )
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_lots_source ON tally_credit_lots (lot_type, source_key);
CREATE INDEX IF NOT EXISTS idx_tally_lots_user_active ON tally_credit_lots (user_id, lot_type, status, expires_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_credit_lots`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_entitlement_snapshots",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_entitlement_snapshots (
    user_id                        TEXT PRIMARY KEY,
    subscription_available_seconds INTEGER NOT NULL DEFAULT 0,
    pack_available_seconds         INTEGER NOT NULL DEFAULT 0,
    pack_expires_at                TIMESTAMP,
    debt_seconds                   INTEGER NOT NULL DEFAULT 0,
    is_blocked                     INTEGER NOT NULL DEFAULT 0,
    last_sync_at                   TIMESTAMP,
    updated_at                     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CONSTRAINT tally_snapshots_debt_chk CHECK (debt_seconds >= 0)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_entitlement_snapshots`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_orders",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_orders (
    id                       TEXT PRIMARY KEY,
    provider_order_id        TEXT NOT NULL UNIQUE,
    user_id                  TEXT NOT NULL,
    plan_id                  TEXT,
    plan_type                TEXT NOT NULL,
    provider_product_id      TEXT NOT NULL DEFAULT '',
    provider_subscription_id TEXT NOT NULL DEFAULT '',
    paid_cents               INTEGER NOT NULL DEFAULT 0,
    refunded_cents           INTEGER NOT NULL DEFAULT 0,
    currency                 TEXT NOT NULL DEFAULT 'usd',
    status                   TEXT NOT NULL DEFAULT 'paid',
    created_at               TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at               TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tally_orders_user_status ON tally_orders (user_id, status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_orders`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_usage_ledger",
			Version: "20250301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_usage_ledger (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    job_id       TEXT,
    seconds_used INTEGER NOT NULL,
    source       TEXT NOT NULL,
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tally_usage_user_created ON tally_usage_ledger (user_id, created_at DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_usage_ledger`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_subscription_states",
			Version: "20250301000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_subscription_states (
    user_id                  TEXT PRIMARY KEY,
    plan_id                  TEXT,
    provider_subscription_id TEXT NOT NULL DEFAULT '',
    status                   TEXT NOT NULL DEFAULT '',
    period_start             TIMESTAMP,
    period_end               TIMESTAMP,
    cycle_grant_seconds      INTEGER NOT NULL DEFAULT 0,
    rollover_seconds         INTEGER NOT NULL DEFAULT 0,
    available_seconds        INTEGER NOT NULL DEFAULT 0,
    updated_at               TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_subscription_states`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_customers",
			Version: "20250301000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_customers (
    user_id              TEXT PRIMARY KEY,
    external_customer_id TEXT NOT NULL DEFAULT '',
    provider_customer_id TEXT NOT NULL DEFAULT '',
    email                TEXT NOT NULL DEFAULT '',
    country              TEXT NOT NULL DEFAULT '',
    updated_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_customers`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_webhook_events",
			Version: "20250301000008",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_webhook_events (
    id           TEXT PRIMARY KEY,
    event_id     TEXT NOT NULL UNIQUE,
    provider     TEXT NOT NULL DEFAULT '',
    event_type   TEXT NOT NULL DEFAULT '',
    payload      TEXT NOT NULL DEFAULT '{}',
    status       TEXT NOT NULL DEFAULT 'received',
    attempts     INTEGER NOT NULL DEFAULT 0,
    claimed_at   TIMESTAMP,
    processed_at TIMESTAMP,
    error        TEXT,
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tally_webhook_events_stale ON tally_webhook_events (status, claimed_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_webhook_events`)
				return err
			},
		},
	)
}
