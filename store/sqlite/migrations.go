package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Tally store (SQLite).
var Migrations = migrate.NewGroup("tally")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tally_pricing",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_pricing (
    id               TEXT PRIMARY KEY,
    org_id           TEXT NOT NULL,
    name             TEXT NOT NULL DEFAULT '',
    charge_style     TEXT NOT NULL,
    charge_frequency TEXT NOT NULL DEFAULT '',
    tiers            TEXT NOT NULL DEFAULT '[]',
    asset            TEXT NOT NULL,
    flat_price       INTEGER NOT NULL DEFAULT 0,
    usage_meter_id   TEXT NOT NULL DEFAULT '',
    is_active        INTEGER NOT NULL DEFAULT 0,
    is_restricted    INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tally_pricing_org ON tally_pricing (org_id, is_active);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_pricing`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_coupons",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_coupons (
    id                       TEXT PRIMARY KEY,
    org_id                   TEXT NOT NULL,
    code                     TEXT NOT NULL,
    discount_bps             INTEGER NOT NULL,
    expiration               TEXT,
    max_total_redemptions    INTEGER NOT NULL DEFAULT 0,
    total_redemptions        INTEGER NOT NULL DEFAULT 0,
    is_initial_purchase_only INTEGER NOT NULL DEFAULT 0,
    is_active                INTEGER NOT NULL DEFAULT 0,
    is_restricted            INTEGER NOT NULL DEFAULT 0,
    is_one_time_use          INTEGER NOT NULL DEFAULT 0,
    created_at               TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at               TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_coupons_org_code ON tally_coupons (org_id, code);

CREATE TABLE IF NOT EXISTS tally_coupon_redemptions (
    coupon_id  TEXT NOT NULL,
    subscriber TEXT NOT NULL,
    org_id     TEXT NOT NULL,
    count      INTEGER NOT NULL DEFAULT 0,
    last_at    TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (coupon_id, subscriber)
);

CREATE INDEX IF NOT EXISTS idx_tally_redemptions_org_sub ON tally_coupon_redemptions (org_id, subscriber);

CREATE TABLE IF NOT EXISTS tally_standing_coupons (
    org_id     TEXT NOT NULL,
    subscriber TEXT NOT NULL,
    coupon_id  TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (org_id, subscriber)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tally_standing_coupons;
DROP TABLE IF EXISTS tally_coupon_redemptions;
DROP TABLE IF EXISTS tally_coupons;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_discounts",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_discounts (
    id            TEXT PRIMARY KEY,
    org_id        TEXT NOT NULL,
    name          TEXT NOT NULL,
    discount_bps  INTEGER NOT NULL,
    total_mints   INTEGER NOT NULL DEFAULT 0,
    max_mints     INTEGER NOT NULL DEFAULT 0,
    is_active     INTEGER NOT NULL DEFAULT 0,
    is_restricted INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_discounts_org_name ON tally_discounts (org_id, name);

CREATE TABLE IF NOT EXISTS tally_access (
    resource_id TEXT NOT NULL,
    subscriber  TEXT NOT NULL,
    granted_at  TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (resource_id, subscriber)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tally_access;
DROP TABLE IF EXISTS tally_discounts;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_meters",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_meters (
    id                 TEXT PRIMARY KEY,
    org_id             TEXT NOT NULL,
    name               TEXT NOT NULL,
    aggregation_method TEXT NOT NULL,
    is_active          INTEGER NOT NULL DEFAULT 0,
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tally_meters_org ON tally_meters (org_id);

CREATE TABLE IF NOT EXISTS tally_meter_usage (
    meter_id   TEXT NOT NULL,
    subscriber TEXT NOT NULL,
    value      INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (meter_id, subscriber)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tally_meter_usage;
DROP TABLE IF EXISTS tally_meters;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_balances",
			Version: "20260101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_org_balances (
    org_id     TEXT NOT NULL,
    asset      TEXT NOT NULL,
    amount     INTEGER NOT NULL DEFAULT 0 CHECK (amount >= 0),
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (org_id, asset)
);

CREATE TABLE IF NOT EXISTS tally_fee_balances (
    asset      TEXT PRIMARY KEY,
    amount     INTEGER NOT NULL DEFAULT 0 CHECK (amount >= 0),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tally_fee_balances;
DROP TABLE IF EXISTS tally_org_balances;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_subscriptions",
			Version: "20260101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_subscriptions (
    id                 TEXT PRIMARY KEY,
    org_id             TEXT NOT NULL,
    subscriber         TEXT NOT NULL,
    product_id         TEXT NOT NULL DEFAULT '',
    pricing_id         TEXT NOT NULL,
    pending_pricing_id TEXT NOT NULL DEFAULT '',
    discount_ids       TEXT NOT NULL DEFAULT '[]',
    checkout_id        TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'active',
    start_date         TEXT NOT NULL,
    end_date           TEXT NOT NULL,
    committed_quantity INTEGER NOT NULL DEFAULT 0,
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tally_subs_org_sub ON tally_subscriptions (org_id, subscriber);
CREATE INDEX IF NOT EXISTS idx_tally_subs_due ON tally_subscriptions (status, end_date);

CREATE TABLE IF NOT EXISTS tally_org_settings (
    org_id                        TEXT PRIMARY KEY,
    pausable                      INTEGER NOT NULL DEFAULT 0,
    subscriber_changeable_pricing INTEGER NOT NULL DEFAULT 0,
    updated_at                    TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tally_org_settings;
DROP TABLE IF EXISTS tally_subscriptions;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_invoices",
			Version: "20260101000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_invoices (
    id              TEXT PRIMARY KEY,
    org_id          TEXT NOT NULL,
    subscriber      TEXT NOT NULL,
    checkout_id     TEXT NOT NULL DEFAULT '',
    subscription_id TEXT NOT NULL DEFAULT '',
    kind            TEXT NOT NULL,
    asset           TEXT NOT NULL,
    subtotal        INTEGER NOT NULL DEFAULT 0,
    discount_amount INTEGER NOT NULL DEFAULT 0,
    total           INTEGER NOT NULL DEFAULT 0,
    fee             INTEGER NOT NULL DEFAULT 0,
    net             INTEGER NOT NULL DEFAULT 0,
    coupon_id       TEXT NOT NULL DEFAULT '',
    discount_ids    TEXT NOT NULL DEFAULT '[]',
    line_items      TEXT NOT NULL DEFAULT '[]',
    period_start    TEXT,
    period_end      TEXT,
    paid_at         TEXT NOT NULL,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tally_invoices_org_sub ON tally_invoices (org_id, subscriber);
CREATE INDEX IF NOT EXISTS idx_tally_invoices_subscription ON tally_invoices (subscription_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_invoices`)
				return err
			},
		},
	)
}
