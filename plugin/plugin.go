// Package plugin provides the hook system Tally uses to publish events.
// A plugin implements Plugin plus any of the On* interfaces it cares
// about; the Registry discovers them once at registration.
package plugin

import (
	"context"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

type OnPricingCreated interface {
	Plugin
	OnPricingCreated(ctx context.Context, p *pricing.Pricing) error
}

// OnPricingUpdated fires for tier, scalar and access changes.
type OnPricingUpdated interface {
	Plugin
	OnPricingUpdated(ctx context.Context, p *pricing.Pricing) error
}

type OnCouponCreated interface {
	Plugin
	OnCouponCreated(ctx context.Context, c *coupon.Coupon) error
}

type OnCouponUpdated interface {
	Plugin
	OnCouponUpdated(ctx context.Context, c *coupon.Coupon) error
}

type OnCouponRedeemed interface {
	Plugin
	OnCouponRedeemed(ctx context.Context, c *coupon.Coupon, subscriber string) error
}

type OnDiscountCreated interface {
	Plugin
	OnDiscountCreated(ctx context.Context, d *discount.Discount) error
}

type OnDiscountMinted interface {
	Plugin
	OnDiscountMinted(ctx context.Context, d *discount.Discount, subscriber string) error
}

// ──────────────────────────────────────────────────
// Metering hooks
// ──────────────────────────────────────────────────

type OnMeterCreated interface {
	Plugin
	OnMeterCreated(ctx context.Context, m *meter.Meter) error
}

// OnMeterUsageSet receives the value after the write.
type OnMeterUsageSet interface {
	Plugin
	OnMeterUsageSet(ctx context.Context, meterID id.MeterID, subscriber string, value int64) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionCycleUpdated fires when a subscription's period,
// pricing or committed quantity changes.
type OnSubscriptionCycleUpdated interface {
	Plugin
	OnSubscriptionCycleUpdated(ctx context.Context, sub *subscription.Subscription) error
}

type OnSubscriptionStatusChanged interface {
	Plugin
	OnSubscriptionStatusChanged(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error
}

// OnRenewalProcessed fires once per renewal attempt with its outcome.
// err is nil on success.
type OnRenewalProcessed interface {
	Plugin
	OnRenewalProcessed(ctx context.Context, subID id.SubscriptionID, outcome string, err error) error
}

type OnCheckoutCompleted interface {
	Plugin
	OnCheckoutCompleted(ctx context.Context, inv *invoice.Invoice, subs []*subscription.Subscription) error
}

// ──────────────────────────────────────────────────
// Escrow hooks
// ──────────────────────────────────────────────────

type OnBalanceCredited interface {
	Plugin
	OnBalanceCredited(ctx context.Context, orgID, asset string, net, fee int64) error
}

type OnBalanceWithdrawn interface {
	Plugin
	OnBalanceWithdrawn(ctx context.Context, orgID, asset string, amount int64, to string) error
}

type OnFeeWithdrawn interface {
	Plugin
	OnFeeWithdrawn(ctx context.Context, asset string, amount int64, to string) error
}

type OnWhitelistedTokenSet interface {
	Plugin
	OnWhitelistedTokenSet(ctx context.Context, asset string, whitelisted bool) error
}

// FeeChange describes one fee schedule edit. Only the fields relevant to
// Setting are populated.
type FeeChange struct {
	Setting string // "rate", "exotic_rate", "enabled", "exempt", "reducer"
	Asset   string
	OrgID   string
	Bps     int64
	Flag    bool
}

type OnFeeSet interface {
	Plugin
	OnFeeSet(ctx context.Context, change FeeChange) error
}
