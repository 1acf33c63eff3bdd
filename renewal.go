package tally

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// Outcome classifies one item of a batch renewal.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeNotReady  Outcome = "not_ready"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePaused    Outcome = "paused"
	// OutcomeReady is only produced by CheckRenewals.
	OutcomeReady Outcome = "ready"
)

// RenewalResult reports what happened to one subscription.
type RenewalResult struct {
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	Outcome        Outcome           `json:"outcome"`
	// Amount is the total charged on success.
	Amount int64 `json:"amount"`
	Err    error `json:"-"`
}

// Renew renews one subscription whose cycle has ended. It returns
// ErrNotReady before EndDate, ErrSubscriptionCancelled or
// ErrSubscriptionPaused for those states, and ErrPaymentFailed (leaving
// the subscription past_due) when the Treasury rejects the charge.
func (e *Engine) Renew(ctx context.Context, subID id.SubscriptionID) error {
	return e.renewOne(ctx, subID).Err
}

// RenewBatch renews each subscription independently. One item's failure
// never affects another; results are in the order of ids.
func (e *Engine) RenewBatch(ctx context.Context, ids []id.SubscriptionID) []RenewalResult {
	results := make([]RenewalResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.renewal.Concurrency)
	for i, subID := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = RenewalResult{SubscriptionID: subID, Outcome: OutcomeFailed, Err: err}
				return nil
			}
			results[i] = e.renewOne(gctx, subID)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // items never return errors

	e.logBatch(ctx, "renewal batch processed", results)
	return results
}

// RenewRange renews every subscription of orgID whose ID lies in
// [from, to]. A nil bound leaves that side open.
func (e *Engine) RenewRange(ctx context.Context, orgID string, from, to id.SubscriptionID) ([]RenewalResult, error) {
	subs, err := e.store.ListSubscriptionRange(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}
	return e.RenewBatch(ctx, subscriptionIDs(subs)), nil
}

// RenewDue renews up to limit due subscriptions across every org. It runs
// as the engine itself and skips caller checks. limit <= 0 uses the
// configured batch size.
func (e *Engine) RenewDue(ctx context.Context, limit int) ([]RenewalResult, error) {
	if limit <= 0 {
		limit = e.renewal.BatchSize
	}
	subs, err := e.store.ListDueSubscriptions(ctx, e.now(), limit)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return e.RenewBatch(withSystem(ctx), subscriptionIDs(subs)), nil
}

// CheckRenewals reports what RenewBatch would do without charging
// anything. Renewable items come back as OutcomeReady.
func (e *Engine) CheckRenewals(ctx context.Context, ids []id.SubscriptionID) []RenewalResult {
	results := make([]RenewalResult, len(ids))
	now := e.now()
	for i, subID := range ids {
		res := RenewalResult{SubscriptionID: subID}
		sub, err := e.store.GetSubscription(ctx, subID)
		if err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
			results[i] = res
			continue
		}
		if out, err := precheck(sub, now); err != nil {
			res.Outcome, res.Err = out, err
			results[i] = res
			continue
		}
		p, err := e.store.GetPricing(ctx, effectivePricing(sub))
		switch {
		case err != nil:
			res.Outcome, res.Err = OutcomeFailed, err
		case !p.IsActive:
			res.Outcome, res.Err = OutcomeFailed, ErrPricingInactive
		default:
			res.Outcome = OutcomeReady
		}
		results[i] = res
	}
	return results
}

func subscriptionIDs(subs []*subscription.Subscription) []id.SubscriptionID {
	out := make([]id.SubscriptionID, len(subs))
	for i, s := range subs {
		out[i] = s.ID
	}
	return out
}

func effectivePricing(sub *subscription.Subscription) id.PricingID {
	if !sub.PendingPricingID.IsNil() {
		return sub.PendingPricingID
	}
	return sub.PricingID
}

// precheck maps the states that block renewal at now to their outcome.
func precheck(sub *subscription.Subscription, now time.Time) (Outcome, error) {
	switch {
	case sub.Status == subscription.StatusCancelled:
		return OutcomeCancelled, ErrSubscriptionCancelled
	case sub.Status == subscription.StatusPaused:
		return OutcomePaused, ErrSubscriptionPaused
	case !sub.Due(now):
		return OutcomeNotReady, ErrNotReady
	}
	return "", nil
}

// renewOne runs a single renewal under the subscription's lock and
// always emits RenewalProcessed.
func (e *Engine) renewOne(ctx context.Context, subID id.SubscriptionID) (res RenewalResult) {
	res.SubscriptionID = subID

	ctx, span := startSpan(ctx, traceSpanRenew, attribute.String(traceAttrSubscriptionID, subID.String()))
	defer func() {
		span.SetAttributes(attribute.String(traceAttrOutcome, string(res.Outcome)))
		endSpan(span, res.Err)
		e.plugins.EmitRenewalProcessed(ctx, subID, string(res.Outcome), res.Err)
	}()

	unlock := e.locks.Lock(subKey(subID.String()))
	defer unlock()

	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if err := e.requireSubscriberOrAdmin(ctx, sub.OrgID, sub.Subscriber, true); err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	now := e.now()
	if out, err := precheck(sub, now); err != nil {
		res.Outcome, res.Err = out, err
		return res
	}

	amount, err := e.chargeRenewal(ctx, sub, now)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	res.Outcome, res.Amount = OutcomeSuccess, amount
	return res
}

// chargeRenewal prices the ended cycle, collects payment and advances
// sub. On payment failure the subscription moves to past_due.
func (e *Engine) chargeRenewal(ctx context.Context, sub *subscription.Subscription, now time.Time) (int64, error) {
	p, err := e.store.GetPricing(ctx, effectivePricing(sub))
	if err != nil {
		return 0, err
	}
	if !p.IsActive {
		return 0, fmt.Errorf("%w: %s", ErrPricingInactive, p.ID)
	}
	cycle := p.Cycle()
	if cycle <= 0 {
		return 0, fmt.Errorf("%w: %s does not renew", ErrInvalidChargeStyle, p.ChargeStyle)
	}

	qty, subtotal, err := e.periodCost(ctx, sub, p)
	if err != nil {
		return 0, err
	}
	total := discount.Apply(subtotal, e.loadDiscounts(ctx, sub.DiscountIDs)...)

	cpn := e.standingCoupon(ctx, sub)
	if cpn != nil {
		total = cpn.Apply(total)
	}

	net, fee, err := e.collect(ctx, sub.Subscriber, sub.OrgID, p.Asset, total)
	if err != nil {
		if cpn != nil {
			e.revertRedemption(ctx, cpn, sub.Subscriber)
		}
		e.markPastDue(ctx, sub, now)
		return 0, err
	}

	from := sub.Status
	sub.PricingID = p.ID
	sub.PendingPricingID = id.Nil
	sub.Advance(cycle)
	sub.Status = subscription.StatusActive
	sub.Touch(now)
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		e.logger.Error("advance subscription after payment",
			"subscription_id", sub.ID.String(),
			"amount", total,
			"error", err,
		)
		return 0, err
	}

	if p.ChargeStyle.IsUsage() && qty > 0 {
		if err := e.store.SetUsage(ctx, p.UsageMeterID, sub.Subscriber, 0, now); err != nil {
			e.logger.Error("reset usage after renewal",
				"subscription_id", sub.ID.String(),
				"meter_id", p.UsageMeterID.String(),
				"error", err,
			)
		} else {
			e.plugins.EmitMeterUsageSet(ctx, p.UsageMeterID, sub.Subscriber, 0)
		}
	}

	var couponID id.CouponID
	if cpn != nil {
		couponID = cpn.ID
	}
	e.recordInvoice(ctx, &invoice.Invoice{
		Entity:         types.NewEntity(now),
		ID:             id.NewInvoiceID(),
		OrgID:          sub.OrgID,
		Subscriber:     sub.Subscriber,
		CheckoutID:     sub.CheckoutID,
		SubscriptionID: sub.ID,
		Kind:           invoice.KindRenewal,
		Asset:          p.Asset,
		Subtotal:       subtotal,
		DiscountAmount: subtotal - total,
		Total:          total,
		Fee:            fee,
		Net:            net,
		CouponID:       couponID,
		DiscountIDs:    sub.DiscountIDs,
		LineItems: []invoice.LineItem{{
			ID:             id.NewLineItemID(),
			PricingID:      p.ID,
			ProductID:      sub.ProductID,
			SubscriptionID: sub.ID,
			ChargeStyle:    string(p.ChargeStyle),
			Quantity:       qty,
			Amount:         subtotal,
		}},
		PeriodStart: sub.StartDate,
		PeriodEnd:   sub.EndDate,
		PaidAt:      now,
	})

	if cpn != nil {
		e.plugins.EmitCouponRedeemed(ctx, cpn, sub.Subscriber)
	}
	e.plugins.EmitSubscriptionCycleUpdated(ctx, sub)
	if from != sub.Status {
		e.plugins.EmitSubscriptionStatusChanged(ctx, sub, from)
	}

	e.logger.Debug("subscription renewed",
		"subscription_id", sub.ID.String(),
		"org_id", sub.OrgID,
		"total", types.New(total, p.Asset).String(),
		"end_date", sub.EndDate,
	)
	return total, nil
}

// standingCoupon redeems the subscriber's standing coupon for this cycle.
// An ineligible coupon is skipped, never failing the renewal.
func (e *Engine) standingCoupon(ctx context.Context, sub *subscription.Subscription) *coupon.Coupon {
	couponID, err := e.store.GetStandingCoupon(ctx, sub.OrgID, sub.Subscriber)
	if err != nil || couponID.IsNil() {
		return nil
	}
	cpn, err := e.redeem(ctx, couponID, sub.Subscriber, false)
	if err != nil {
		e.logger.Debug("standing coupon skipped",
			"subscription_id", sub.ID.String(),
			"coupon_id", couponID.String(),
			"error", err,
		)
		return nil
	}
	return cpn
}

// markPastDue moves an active subscription to past_due after a failed
// payment. A past-due subscription only has the attempt time recorded, so
// due listings retry it after the others.
func (e *Engine) markPastDue(ctx context.Context, sub *subscription.Subscription, now time.Time) {
	from := sub.Status
	switch from {
	case subscription.StatusActive:
		if err := sub.Transition(subscription.StatusPastDue, now); err != nil {
			return
		}
	case subscription.StatusPastDue:
		sub.Touch(now)
	default:
		return
	}
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		e.logger.Error("mark subscription past due",
			"subscription_id", sub.ID.String(),
			"error", err,
		)
		return
	}
	if from != sub.Status {
		e.plugins.EmitSubscriptionStatusChanged(ctx, sub, from)
	}
}

func (e *Engine) logBatch(ctx context.Context, msg string, results []RenewalResult) {
	counts := make(map[Outcome]int, 6)
	for _, r := range results {
		counts[r.Outcome]++
	}
	e.logger.InfoContext(ctx, msg,
		"total", len(results),
		"success", counts[OutcomeSuccess],
		"failed", counts[OutcomeFailed],
		"not_ready", counts[OutcomeNotReady],
		"cancelled", counts[OutcomeCancelled],
		"paused", counts[OutcomePaused],
	)
}

// Failed returns the results whose outcome is OutcomeFailed.
func Failed(results []RenewalResult) []RenewalResult {
	var out []RenewalResult
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			out = append(out, r)
		}
	}
	return out
}

// BatchError folds the failed results into a MultiError, nil when none
// failed.
func BatchError(results []RenewalResult) error {
	var me MultiError
	for _, r := range Failed(results) {
		me.Add(fmt.Errorf("%s: %w", r.SubscriptionID, r.Err))
	}
	return me.ErrOrNil()
}

