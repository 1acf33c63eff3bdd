// Package audithook bridges Tally lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                      = (*Extension)(nil)
	_ plugin.OnPricingCreated            = (*Extension)(nil)
	_ plugin.OnPricingUpdated            = (*Extension)(nil)
	_ plugin.OnCouponCreated             = (*Extension)(nil)
	_ plugin.OnCouponUpdated             = (*Extension)(nil)
	_ plugin.OnCouponRedeemed            = (*Extension)(nil)
	_ plugin.OnDiscountCreated           = (*Extension)(nil)
	_ plugin.OnDiscountMinted            = (*Extension)(nil)
	_ plugin.OnMeterCreated              = (*Extension)(nil)
	_ plugin.OnMeterUsageSet             = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated       = (*Extension)(nil)
	_ plugin.OnSubscriptionCycleUpdated  = (*Extension)(nil)
	_ plugin.OnSubscriptionStatusChanged = (*Extension)(nil)
	_ plugin.OnRenewalProcessed          = (*Extension)(nil)
	_ plugin.OnCheckoutCompleted         = (*Extension)(nil)
	_ plugin.OnBalanceCredited           = (*Extension)(nil)
	_ plugin.OnBalanceWithdrawn          = (*Extension)(nil)
	_ plugin.OnFeeWithdrawn              = (*Extension)(nil)
	_ plugin.OnWhitelistedTokenSet       = (*Extension)(nil)
	_ plugin.OnFeeSet                    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Tally lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPricingCreated implements plugin.OnPricingCreated.
func (e *Extension) OnPricingCreated(ctx context.Context, p *pricing.Pricing) error {
	return e.record(ctx, ActionPricingCreated, SeverityInfo, OutcomeSuccess,
		ResourcePricing, p.ID.String(), CategoryCatalog, nil,
		"org_id", p.OrgID,
		"charge_style", string(p.ChargeStyle),
		"asset", p.Asset,
	)
}

// OnPricingUpdated implements plugin.OnPricingUpdated.
func (e *Extension) OnPricingUpdated(ctx context.Context, p *pricing.Pricing) error {
	return e.record(ctx, ActionPricingUpdated, SeverityInfo, OutcomeSuccess,
		ResourcePricing, p.ID.String(), CategoryCatalog, nil,
		"org_id", p.OrgID,
		"is_active", p.IsActive,
		"is_restricted", p.IsRestricted,
	)
}

// OnCouponCreated implements plugin.OnCouponCreated.
func (e *Extension) OnCouponCreated(ctx context.Context, c *coupon.Coupon) error {
	return e.record(ctx, ActionCouponCreated, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, c.ID.String(), CategoryCatalog, nil,
		"org_id", c.OrgID,
		"code", c.Code,
		"discount_bps", c.DiscountBps,
	)
}

// OnCouponUpdated implements plugin.OnCouponUpdated.
func (e *Extension) OnCouponUpdated(ctx context.Context, c *coupon.Coupon) error {
	return e.record(ctx, ActionCouponUpdated, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, c.ID.String(), CategoryCatalog, nil,
		"org_id", c.OrgID,
		"code", c.Code,
		"is_active", c.IsActive,
	)
}

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (e *Extension) OnCouponRedeemed(ctx context.Context, c *coupon.Coupon, subscriber string) error {
	return e.record(ctx, ActionCouponRedeemed, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, c.ID.String(), CategoryPayment, nil,
		"org_id", c.OrgID,
		"code", c.Code,
		"subscriber", subscriber,
		"total_redemptions", c.TotalRedemptions,
	)
}

// OnDiscountCreated implements plugin.OnDiscountCreated.
func (e *Extension) OnDiscountCreated(ctx context.Context, d *discount.Discount) error {
	return e.record(ctx, ActionDiscountCreated, SeverityInfo, OutcomeSuccess,
		ResourceDiscount, d.ID.String(), CategoryCatalog, nil,
		"org_id", d.OrgID,
		"name", d.Name,
		"discount_bps", d.DiscountBps,
	)
}

// OnDiscountMinted implements plugin.OnDiscountMinted.
func (e *Extension) OnDiscountMinted(ctx context.Context, d *discount.Discount, subscriber string) error {
	return e.record(ctx, ActionDiscountMinted, SeverityInfo, OutcomeSuccess,
		ResourceDiscount, d.ID.String(), CategoryCatalog, nil,
		"org_id", d.OrgID,
		"subscriber", subscriber,
		"total_mints", d.TotalMints,
	)
}

// ──────────────────────────────────────────────────
// Metering hooks
// ──────────────────────────────────────────────────

// OnMeterCreated implements plugin.OnMeterCreated.
func (e *Extension) OnMeterCreated(ctx context.Context, m *meter.Meter) error {
	return e.record(ctx, ActionMeterCreated, SeverityInfo, OutcomeSuccess,
		ResourceMeter, m.ID.String(), CategoryUsage, nil,
		"org_id", m.OrgID,
		"name", m.Name,
		"aggregation", string(m.AggregationMethod),
	)
}

// OnMeterUsageSet implements plugin.OnMeterUsageSet.
func (e *Extension) OnMeterUsageSet(ctx context.Context, meterID id.MeterID, subscriber string, value int64) error {
	return e.record(ctx, ActionMeterUsageSet, SeverityInfo, OutcomeSuccess,
		ResourceMeter, meterID.String(), CategoryUsage, nil,
		"subscriber", subscriber,
		"value", value,
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"org_id", sub.OrgID,
		"subscriber", sub.Subscriber,
		"pricing_id", sub.PricingID.String(),
		"end_date", sub.EndDate,
	)
}

// OnSubscriptionCycleUpdated implements plugin.OnSubscriptionCycleUpdated.
func (e *Extension) OnSubscriptionCycleUpdated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCycleUpdated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"org_id", sub.OrgID,
		"pricing_id", sub.PricingID.String(),
		"pending_pricing_id", sub.PendingPricingID.String(),
		"committed_quantity", sub.CommittedQuantity,
		"end_date", sub.EndDate,
	)
}

// OnSubscriptionStatusChanged implements plugin.OnSubscriptionStatusChanged.
// Moving into past_due is recorded as a warning.
func (e *Extension) OnSubscriptionStatusChanged(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error {
	severity := SeverityInfo
	if sub.Status == subscription.StatusPastDue {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionSubscriptionStatusChanged, severity, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"org_id", sub.OrgID,
		"from", string(from),
		"to", string(sub.Status),
	)
}

// OnRenewalProcessed implements plugin.OnRenewalProcessed.
func (e *Extension) OnRenewalProcessed(ctx context.Context, subID id.SubscriptionID, outcome string, err error) error {
	severity, result := SeverityInfo, OutcomeSuccess
	switch {
	case err != nil && outcome == "failed":
		severity, result = SeverityError, OutcomeFailure
	case outcome != "success":
		result = OutcomeSkipped
	}
	return e.record(ctx, ActionRenewalProcessed, severity, result,
		ResourceSubscription, subID.String(), CategoryPayment, err,
		"outcome", outcome,
	)
}

// OnCheckoutCompleted implements plugin.OnCheckoutCompleted.
func (e *Extension) OnCheckoutCompleted(ctx context.Context, inv *invoice.Invoice, subs []*subscription.Subscription) error {
	subIDs := make([]string, 0, len(subs))
	for _, s := range subs {
		subIDs = append(subIDs, s.ID.String())
	}
	return e.record(ctx, ActionCheckoutCompleted, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryPayment, nil,
		"org_id", inv.OrgID,
		"subscriber", inv.Subscriber,
		"checkout_id", inv.CheckoutID.String(),
		"asset", inv.Asset,
		"total", inv.Total,
		"fee", inv.Fee,
		"subscription_ids", subIDs,
	)
}

// ──────────────────────────────────────────────────
// Escrow hooks
// ──────────────────────────────────────────────────

// OnBalanceCredited implements plugin.OnBalanceCredited.
func (e *Extension) OnBalanceCredited(ctx context.Context, orgID, asset string, net, fee int64) error {
	return e.record(ctx, ActionBalanceCredited, SeverityInfo, OutcomeSuccess,
		ResourceBalance, orgID, CategoryEscrow, nil,
		"asset", asset,
		"net", net,
		"fee", fee,
	)
}

// OnBalanceWithdrawn implements plugin.OnBalanceWithdrawn.
func (e *Extension) OnBalanceWithdrawn(ctx context.Context, orgID, asset string, amount int64, to string) error {
	return e.record(ctx, ActionBalanceWithdrawn, SeverityWarning, OutcomeSuccess,
		ResourceBalance, orgID, CategoryEscrow, nil,
		"asset", asset,
		"amount", amount,
		"to", to,
	)
}

// OnFeeWithdrawn implements plugin.OnFeeWithdrawn.
func (e *Extension) OnFeeWithdrawn(ctx context.Context, asset string, amount int64, to string) error {
	return e.record(ctx, ActionFeeWithdrawn, SeverityWarning, OutcomeSuccess,
		ResourceBalance, asset, CategoryAdmin, nil,
		"amount", amount,
		"to", to,
	)
}

// OnWhitelistedTokenSet implements plugin.OnWhitelistedTokenSet.
func (e *Extension) OnWhitelistedTokenSet(ctx context.Context, asset string, whitelisted bool) error {
	return e.record(ctx, ActionAssetWhitelisted, SeverityInfo, OutcomeSuccess,
		ResourceFeeSchedule, asset, CategoryAdmin, nil,
		"whitelisted", whitelisted,
	)
}

// OnFeeSet implements plugin.OnFeeSet.
func (e *Extension) OnFeeSet(ctx context.Context, change plugin.FeeChange) error {
	resourceID := change.Asset
	if change.OrgID != "" {
		resourceID = change.OrgID
	}
	return e.record(ctx, ActionFeeSet, SeverityInfo, OutcomeSuccess,
		ResourceFeeSchedule, resourceID, CategoryAdmin, nil,
		"setting", change.Setting,
		"asset", change.Asset,
		"org_id", change.OrgID,
		"bps", change.Bps,
		"flag", change.Flag,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
