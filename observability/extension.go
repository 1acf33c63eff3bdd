// Package observability provides a metrics extension for Tally that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                      = (*MetricsExtension)(nil)
	_ plugin.OnPricingCreated            = (*MetricsExtension)(nil)
	_ plugin.OnCouponCreated             = (*MetricsExtension)(nil)
	_ plugin.OnCouponRedeemed            = (*MetricsExtension)(nil)
	_ plugin.OnDiscountCreated           = (*MetricsExtension)(nil)
	_ plugin.OnDiscountMinted            = (*MetricsExtension)(nil)
	_ plugin.OnMeterCreated              = (*MetricsExtension)(nil)
	_ plugin.OnMeterUsageSet             = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated       = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionStatusChanged = (*MetricsExtension)(nil)
	_ plugin.OnRenewalProcessed          = (*MetricsExtension)(nil)
	_ plugin.OnCheckoutCompleted         = (*MetricsExtension)(nil)
	_ plugin.OnBalanceCredited           = (*MetricsExtension)(nil)
	_ plugin.OnBalanceWithdrawn          = (*MetricsExtension)(nil)
	_ plugin.OnFeeWithdrawn              = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Tally plugin to track catalog, renewal and escrow activity.
type MetricsExtension struct {
	factory MetricFactory

	// Catalog metrics
	PricingCreated  Counter
	CouponCreated   Counter
	CouponRedeemed  Counter
	DiscountCreated Counter
	DiscountMinted  Counter

	// Usage metrics
	MeterCreated Counter
	UsageSet     Counter
	UsageValue   Histogram

	// Subscription metrics
	SubscriptionCreated   Counter
	SubscriptionPastDue   Counter
	SubscriptionCancelled Counter
	SubscriptionPaused    Counter

	// Renewal metrics
	RenewalSuccess Counter
	RenewalFailure Counter
	RenewalSkipped Counter

	// Checkout metrics
	CheckoutCompleted Counter
	CheckoutTotal     Histogram

	// Escrow metrics
	BalanceCredited  Counter
	FeesCollected    Counter
	BalanceWithdrawn Counter
	FeeWithdrawn     Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		PricingCreated:  factory.Counter("tally.pricing.created"),
		CouponCreated:   factory.Counter("tally.coupon.created"),
		CouponRedeemed:  factory.Counter("tally.coupon.redeemed"),
		DiscountCreated: factory.Counter("tally.discount.created"),
		DiscountMinted:  factory.Counter("tally.discount.minted"),

		MeterCreated: factory.Counter("tally.meter.created"),
		UsageSet:     factory.Counter("tally.meter.usage_set"),
		UsageValue:   factory.Histogram("tally.meter.usage_value"),

		SubscriptionCreated:   factory.Counter("tally.subscription.created"),
		SubscriptionPastDue:   factory.Counter("tally.subscription.past_due"),
		SubscriptionCancelled: factory.Counter("tally.subscription.cancelled"),
		SubscriptionPaused:    factory.Counter("tally.subscription.paused"),

		RenewalSuccess: factory.Counter("tally.renewal.success"),
		RenewalFailure: factory.Counter("tally.renewal.failure"),
		RenewalSkipped: factory.Counter("tally.renewal.skipped"),

		CheckoutCompleted: factory.Counter("tally.checkout.completed"),
		CheckoutTotal:     factory.Histogram("tally.checkout.total_amount"),

		BalanceCredited:  factory.Counter("tally.escrow.credited_amount"),
		FeesCollected:    factory.Counter("tally.escrow.fee_amount"),
		BalanceWithdrawn: factory.Counter("tally.escrow.withdrawn_amount"),
		FeeWithdrawn:     factory.Counter("tally.escrow.fee_withdrawn_amount"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPricingCreated implements plugin.OnPricingCreated.
func (m *MetricsExtension) OnPricingCreated(_ context.Context, _ *pricing.Pricing) error {
	m.PricingCreated.Inc()
	return nil
}

// OnCouponCreated implements plugin.OnCouponCreated.
func (m *MetricsExtension) OnCouponCreated(_ context.Context, _ *coupon.Coupon) error {
	m.CouponCreated.Inc()
	return nil
}

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (m *MetricsExtension) OnCouponRedeemed(_ context.Context, _ *coupon.Coupon, _ string) error {
	m.CouponRedeemed.Inc()
	return nil
}

// OnDiscountCreated implements plugin.OnDiscountCreated.
func (m *MetricsExtension) OnDiscountCreated(_ context.Context, _ *discount.Discount) error {
	m.DiscountCreated.Inc()
	return nil
}

// OnDiscountMinted implements plugin.OnDiscountMinted.
func (m *MetricsExtension) OnDiscountMinted(_ context.Context, _ *discount.Discount, _ string) error {
	m.DiscountMinted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnMeterCreated implements plugin.OnMeterCreated.
func (m *MetricsExtension) OnMeterCreated(_ context.Context, _ *meter.Meter) error {
	m.MeterCreated.Inc()
	return nil
}

// OnMeterUsageSet implements plugin.OnMeterUsageSet.
func (m *MetricsExtension) OnMeterUsageSet(_ context.Context, _ id.MeterID, _ string, value int64) error {
	m.UsageSet.Inc()
	m.UsageValue.Observe(float64(value))
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionStatusChanged implements plugin.OnSubscriptionStatusChanged.
func (m *MetricsExtension) OnSubscriptionStatusChanged(_ context.Context, sub *subscription.Subscription, _ subscription.Status) error {
	switch sub.Status {
	case subscription.StatusPastDue:
		m.SubscriptionPastDue.Inc()
	case subscription.StatusCancelled:
		m.SubscriptionCancelled.Inc()
	case subscription.StatusPaused:
		m.SubscriptionPaused.Inc()
	}
	return nil
}

// OnRenewalProcessed implements plugin.OnRenewalProcessed.
func (m *MetricsExtension) OnRenewalProcessed(_ context.Context, _ id.SubscriptionID, outcome string, err error) error {
	switch {
	case outcome == "success":
		m.RenewalSuccess.Inc()
	case err != nil && outcome == "failed":
		m.RenewalFailure.Inc()
	default:
		m.RenewalSkipped.Inc()
	}
	return nil
}

// OnCheckoutCompleted implements plugin.OnCheckoutCompleted.
func (m *MetricsExtension) OnCheckoutCompleted(_ context.Context, inv *invoice.Invoice, _ []*subscription.Subscription) error {
	m.CheckoutCompleted.Inc()
	m.CheckoutTotal.Observe(float64(inv.Total))
	return nil
}

// ──────────────────────────────────────────────────
// Escrow hooks
// ──────────────────────────────────────────────────

// OnBalanceCredited implements plugin.OnBalanceCredited.
func (m *MetricsExtension) OnBalanceCredited(_ context.Context, _, _ string, net, fee int64) error {
	m.BalanceCredited.Add(float64(net))
	m.FeesCollected.Add(float64(fee))
	return nil
}

// OnBalanceWithdrawn implements plugin.OnBalanceWithdrawn.
func (m *MetricsExtension) OnBalanceWithdrawn(_ context.Context, _, _ string, amount int64, _ string) error {
	m.BalanceWithdrawn.Add(float64(amount))
	return nil
}

// OnFeeWithdrawn implements plugin.OnFeeWithdrawn.
func (m *MetricsExtension) OnFeeWithdrawn(_ context.Context, _ string, amount int64, _ string) error {
	m.FeeWithdrawn.Add(float64(amount))
	return nil
}
