package tally

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// CheckoutLine is one priced item of a checkout.
type CheckoutLine struct {
	PricingID id.PricingID `json:"pricing_id"`
	ProductID string       `json:"product_id"`
	// Quantity is the committed quantity for TIERED_* pricing and must be
	// 0 for every other style.
	Quantity int64 `json:"quantity"`
}

// CheckoutRequest is a purchase by the calling account.
type CheckoutRequest struct {
	OrgID       string          `json:"org_id"`
	Lines       []CheckoutLine  `json:"lines"`
	CouponID    id.CouponID     `json:"coupon_id"`
	DiscountIDs []id.DiscountID `json:"discount_ids,omitempty"`
}

// CheckoutResult is what a successful checkout produced.
type CheckoutResult struct {
	CheckoutID    id.CheckoutID                `json:"checkout_id"`
	Invoice       *invoice.Invoice             `json:"invoice"`
	Subscriptions []*subscription.Subscription `json:"subscriptions"`
}

// Checkout prices req, applies discounts then the coupon, collects
// payment from the caller, credits escrow and opens one subscription per
// recurring line. Nothing is persisted when a step before payment fails;
// a payment failure reverts the coupon redemption and discount mints.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest) (_ *CheckoutResult, err error) {
	subscriber := CallerFrom(ctx)
	if subscriber == "" {
		return nil, ErrNoCaller
	}

	ctx, span := startSpan(ctx, traceSpanCheckout,
		attribute.String(traceAttrOrgID, req.OrgID),
		attribute.String(traceAttrSubscriber, subscriber),
	)
	defer func() { endSpan(span, err) }()

	if err := e.requireOrg(ctx, req.OrgID); err != nil {
		return nil, err
	}
	discountIDs, err := uniqueDiscounts(req.DiscountIDs)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(buyerKey(req.OrgID, subscriber))
	defer unlock()

	pricingIDs := make([]id.PricingID, len(req.Lines))
	quantities := make([]int64, len(req.Lines))
	for i, l := range req.Lines {
		pricingIDs[i] = l.PricingID
		quantities[i] = l.Quantity
	}
	quote, err := e.ValidateCheckout(ctx, req.OrgID, subscriber, pricingIDs, quantities)
	if err != nil {
		return nil, err
	}

	items, subtotal, err := priceLines(req.Lines, quote.Pricings)
	if err != nil {
		return nil, err
	}

	has, err := e.store.HasSubscription(ctx, req.OrgID, subscriber)
	if err != nil {
		return nil, err
	}
	initial := !has

	var cpn *coupon.Coupon
	if !req.CouponID.IsNil() {
		if cpn, err = e.store.GetCoupon(ctx, req.CouponID); err != nil {
			return nil, err
		}
		if cpn.OrgID != req.OrgID {
			return nil, fmt.Errorf("%w: %s", ErrCouponNotFound, req.CouponID)
		}
	}

	minted := make([]*discount.Discount, 0, len(discountIDs))
	for _, did := range discountIDs {
		d, err := e.mint(ctx, req.OrgID, did, subscriber)
		if err != nil {
			e.revertMints(ctx, minted)
			return nil, err
		}
		minted = append(minted, d)
	}
	total := discount.Apply(subtotal, minted...)

	if cpn != nil {
		if cpn, err = e.redeem(ctx, req.CouponID, subscriber, initial); err != nil {
			e.revertMints(ctx, minted)
			return nil, err
		}
		total = cpn.Apply(total)
	}

	net, fee, err := e.collect(ctx, subscriber, req.OrgID, quote.Asset, total)
	if err != nil {
		if cpn != nil {
			e.revertRedemption(ctx, cpn, subscriber)
		}
		e.revertMints(ctx, minted)
		e.logger.Warn("checkout payment failed",
			"org_id", req.OrgID,
			"subscriber", subscriber,
			"amount", total,
			"error", err,
		)
		return nil, err
	}

	now := e.now()
	checkoutID := id.NewCheckoutID()
	subs := make([]*subscription.Subscription, 0, len(req.Lines))
	for i, p := range quote.Pricings {
		if !p.ChargeStyle.IsRecurring() {
			continue
		}
		sub := &subscription.Subscription{
			Entity:      types.NewEntity(now),
			ID:          id.NewSubscriptionID(),
			OrgID:       req.OrgID,
			Subscriber:  subscriber,
			ProductID:   req.Lines[i].ProductID,
			PricingID:   p.ID,
			DiscountIDs: discountIDs,
			CheckoutID:  checkoutID,
			Status:      subscription.StatusActive,
			StartDate:   now,
			EndDate:     now.Add(quote.Cycles[i]),
		}
		if p.ChargeStyle.IsCommitted() {
			sub.CommittedQuantity = req.Lines[i].Quantity
		}
		items[i].SubscriptionID = sub.ID
		subs = append(subs, sub)
	}
	if len(subs) > 0 {
		if err := e.store.CreateSubscriptions(ctx, subs); err != nil {
			e.logger.Error("create subscriptions after payment",
				"checkout_id", checkoutID.String(),
				"org_id", req.OrgID,
				"subscriber", subscriber,
				"error", err,
			)
			return nil, err
		}
	}

	inv := &invoice.Invoice{
		Entity:         types.NewEntity(now),
		ID:             id.NewInvoiceID(),
		OrgID:          req.OrgID,
		Subscriber:     subscriber,
		CheckoutID:     checkoutID,
		Kind:           invoice.KindCheckout,
		Asset:          quote.Asset,
		Subtotal:       subtotal,
		DiscountAmount: subtotal - total,
		Total:          total,
		Fee:            fee,
		Net:            net,
		CouponID:       req.CouponID,
		DiscountIDs:    discountIDs,
		LineItems:      items,
		PaidAt:         now,
	}
	e.recordInvoice(ctx, inv)

	for _, d := range minted {
		e.plugins.EmitDiscountMinted(ctx, d, subscriber)
	}
	if cpn != nil {
		e.plugins.EmitCouponRedeemed(ctx, cpn, subscriber)
	}
	for _, sub := range subs {
		e.plugins.EmitSubscriptionCreated(ctx, sub)
	}
	e.plugins.EmitCheckoutCompleted(ctx, inv, subs)

	e.logger.Info("checkout completed",
		"checkout_id", checkoutID.String(),
		"org_id", req.OrgID,
		"subscriber", subscriber,
		"total", types.New(total, quote.Asset).String(),
		"subscriptions", len(subs),
	)

	return &CheckoutResult{
		CheckoutID:    checkoutID,
		Invoice:       inv,
		Subscriptions: subs,
	}, nil
}

// priceLines costs every line. Usage lines are billed in arrears and cost
// nothing at checkout.
func priceLines(lines []CheckoutLine, pricings []*pricing.Pricing) ([]invoice.LineItem, int64, error) {
	items := make([]invoice.LineItem, len(lines))
	var subtotal int64
	for i, p := range pricings {
		line := lines[i]
		var amount int64
		if p.ChargeStyle.IsUsage() {
			if line.Quantity != 0 {
				return nil, 0, fmt.Errorf("%w: usage line %d carries quantity %d", ErrInvalidQuantity, i, line.Quantity)
			}
		} else {
			cost, err := pricing.Cost(p, line.Quantity)
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: %w", i, err)
			}
			amount = cost.Amount
		}

		var err error
		if subtotal, err = types.CheckedAdd(subtotal, amount); err != nil {
			return nil, 0, ErrAmountOverflow
		}
		items[i] = invoice.LineItem{
			ID:          id.NewLineItemID(),
			PricingID:   p.ID,
			ProductID:   line.ProductID,
			ChargeStyle: string(p.ChargeStyle),
			Quantity:    line.Quantity,
			Amount:      amount,
		}
	}
	return items, subtotal, nil
}

func uniqueDiscounts(ids []id.DiscountID) ([]id.DiscountID, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]id.DiscountID, 0, len(ids))
	for _, did := range ids {
		if did.IsNil() {
			continue
		}
		if seen[did.String()] {
			return nil, ValidationError{Field: "discount_ids", Message: "duplicate " + did.String(), Err: ErrInvalidInput}
		}
		seen[did.String()] = true
		out = append(out, did)
	}
	return out, nil
}
