package tally

import (
	"context"
	"fmt"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/org"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// ──────────────────────────────────────────────────
// Subscription reads
// ──────────────────────────────────────────────────

// GetSubscription returns a subscription by ID.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return e.store.GetSubscription(ctx, subID)
}

// ListSubscriptions lists subscriptions matching opts.
func (e *Engine) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return e.store.ListSubscriptions(ctx, opts)
}

// GetInvoice returns an invoice by ID.
func (e *Engine) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return e.store.GetInvoice(ctx, invID)
}

// ListInvoices lists invoices matching opts.
func (e *Engine) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return e.store.ListInvoices(ctx, opts)
}

// ──────────────────────────────────────────────────
// Organization settings
// ──────────────────────────────────────────────────

// GetOrgSettings returns the subscription settings of an org.
func (e *Engine) GetOrgSettings(ctx context.Context, orgID string) (*org.Settings, error) {
	return e.store.GetSettings(ctx, orgID)
}

// SetPausable controls whether the org's subscriptions may be paused.
func (e *Engine) SetPausable(ctx context.Context, orgID string, pausable bool) error {
	return e.updateSettings(ctx, orgID, func(s *org.Settings) { s.Pausable = pausable })
}

// SetSubscriberChangeablePricing controls whether subscribers may change
// their own pricing.
func (e *Engine) SetSubscriberChangeablePricing(ctx context.Context, orgID string, changeable bool) error {
	return e.updateSettings(ctx, orgID, func(s *org.Settings) { s.SubscriberChangeablePricing = changeable })
}

func (e *Engine) updateSettings(ctx context.Context, orgID string, fn func(*org.Settings)) error {
	if err := e.requireOrg(ctx, orgID); err != nil {
		return err
	}
	if err := e.requireAdmin(ctx, orgID); err != nil {
		return err
	}

	unlock := e.locks.Lock(orgKey(orgID))
	defer unlock()

	s, err := e.store.GetSettings(ctx, orgID)
	if err != nil {
		return err
	}
	s.OrgID = orgID
	fn(s)
	s.UpdatedAt = e.now()
	return e.store.SaveSettings(ctx, s)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// withSubscription loads subID under its lock and runs fn. The
// subscription is saved when fn returns nil.
func (e *Engine) withSubscription(ctx context.Context, subID id.SubscriptionID, fn func(*subscription.Subscription) error) (*subscription.Subscription, error) {
	unlock := e.locks.Lock(subKey(subID.String()))
	defer unlock()

	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if err := fn(sub); err != nil {
		return nil, err
	}
	sub.Touch(e.now())
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// PauseSubscription pauses an active subscription. The org must allow
// pausing.
func (e *Engine) PauseSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var from subscription.Status
	sub, err := e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		if err := e.requireSubscriberOrAdmin(ctx, sub.OrgID, sub.Subscriber, true); err != nil {
			return err
		}
		switch sub.Status {
		case subscription.StatusCancelled:
			return ErrSubscriptionCancelled
		case subscription.StatusPaused:
			return ErrSubscriptionPaused
		}
		settings, err := e.store.GetSettings(ctx, sub.OrgID)
		if err != nil {
			return err
		}
		if !settings.Pausable {
			return ErrNotPausable
		}
		from = sub.Status
		return sub.Transition(subscription.StatusPaused, e.now())
	})
	if err != nil {
		return nil, err
	}
	e.plugins.EmitSubscriptionStatusChanged(ctx, sub, from)
	return sub, nil
}

// ResumeSubscription reactivates a paused subscription. Its cycle dates
// are left unchanged.
func (e *Engine) ResumeSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	sub, err := e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		if err := e.requireSubscriberOrAdmin(ctx, sub.OrgID, sub.Subscriber, true); err != nil {
			return err
		}
		if sub.Status == subscription.StatusCancelled {
			return ErrSubscriptionCancelled
		}
		if sub.Status != subscription.StatusPaused {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, subscription.StatusActive)
		}
		return sub.Transition(subscription.StatusActive, e.now())
	})
	if err != nil {
		return nil, err
	}
	e.plugins.EmitSubscriptionStatusChanged(ctx, sub, subscription.StatusPaused)
	return sub, nil
}

// CancelSubscription ends a subscription. Cancelled is terminal.
func (e *Engine) CancelSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var from subscription.Status
	sub, err := e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		if err := e.requireSubscriberOrAdmin(ctx, sub.OrgID, sub.Subscriber, true); err != nil {
			return err
		}
		if sub.Status == subscription.StatusCancelled {
			return ErrSubscriptionCancelled
		}
		from = sub.Status
		return sub.Transition(subscription.StatusCancelled, e.now())
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("subscription cancelled",
		"subscription_id", sub.ID.String(),
		"org_id", sub.OrgID,
	)
	e.plugins.EmitSubscriptionStatusChanged(ctx, sub, from)
	return sub, nil
}

// ChangeQuantity sets the committed quantity billed from the next
// renewal. Only TIERED_* pricing carries a committed quantity.
func (e *Engine) ChangeQuantity(ctx context.Context, subID id.SubscriptionID, qty int64) (*subscription.Subscription, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	sub, err := e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		if err := e.requireSubscriberOrAdmin(ctx, sub.OrgID, sub.Subscriber, false); err != nil {
			return err
		}
		if sub.Status == subscription.StatusCancelled {
			return ErrSubscriptionCancelled
		}
		next := sub.PricingID
		if !sub.PendingPricingID.IsNil() {
			next = sub.PendingPricingID
		}
		p, err := e.store.GetPricing(ctx, next)
		if err != nil {
			return err
		}
		if !p.ChargeStyle.IsCommitted() {
			return fmt.Errorf("%w: %s has no committed quantity", ErrInvalidChargeStyle, p.ChargeStyle)
		}
		sub.CommittedQuantity = qty
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.plugins.EmitSubscriptionCycleUpdated(ctx, sub)
	return sub, nil
}

// ChangePricing moves a subscription to newPricingID. Immediate changes
// charge one cycle of the new pricing now and restart the cycle; deferred
// changes take effect at the next renewal. Subscribers may change their
// own pricing only when the org allows it.
//
// qty is the committed quantity billed under TIERED_* pricing. A qty of 0
// keeps the subscription's current committed quantity, and the change is
// rejected when there is none. Other styles require qty to be 0.
func (e *Engine) ChangePricing(ctx context.Context, subID id.SubscriptionID, newPricingID id.PricingID, immediate bool, qty int64) (*subscription.Subscription, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	var inv *invoice.Invoice
	var from subscription.Status
	var paid int64
	sub, err := e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		if err := e.authorizePricingChange(ctx, sub); err != nil {
			return err
		}
		if sub.Status == subscription.StatusCancelled {
			return ErrSubscriptionCancelled
		}

		p, err := e.store.GetPricing(ctx, newPricingID)
		if err != nil {
			return err
		}
		if err := e.checkPricingFor(ctx, p, sub); err != nil {
			return err
		}

		committed, err := committedQuantityFor(sub, p, qty)
		if err != nil {
			return err
		}
		sub.CommittedQuantity = committed

		if !immediate {
			sub.PendingPricingID = p.ID
			return nil
		}

		billed, amount, err := e.periodCost(ctx, sub, p)
		if err != nil {
			return err
		}
		discounts := e.loadDiscounts(ctx, sub.DiscountIDs)
		total := discount.Apply(amount, discounts...)

		net, fee, err := e.collect(ctx, sub.Subscriber, sub.OrgID, p.Asset, total)
		if err != nil {
			return err
		}
		paid = total

		now := e.now()
		from = sub.Status
		sub.PricingID = p.ID
		sub.PendingPricingID = id.Nil
		sub.StartDate = now
		sub.EndDate = now.Add(p.Cycle())
		if sub.Status == subscription.StatusPastDue {
			sub.Status = subscription.StatusActive
		}

		inv = &invoice.Invoice{
			Entity:         types.NewEntity(now),
			ID:             id.NewInvoiceID(),
			OrgID:          sub.OrgID,
			Subscriber:     sub.Subscriber,
			CheckoutID:     sub.CheckoutID,
			SubscriptionID: sub.ID,
			Kind:           invoice.KindPricingChange,
			Asset:          p.Asset,
			Subtotal:       amount,
			DiscountAmount: amount - total,
			Total:          total,
			Fee:            fee,
			Net:            net,
			DiscountIDs:    sub.DiscountIDs,
			LineItems: []invoice.LineItem{{
				ID:             id.NewLineItemID(),
				PricingID:      p.ID,
				ProductID:      sub.ProductID,
				SubscriptionID: sub.ID,
				ChargeStyle:    string(p.ChargeStyle),
				Quantity:       billed,
				Amount:         amount,
			}},
			PeriodStart: sub.StartDate,
			PeriodEnd:   sub.EndDate,
			PaidAt:      now,
		}
		return nil
	})
	if err != nil {
		if paid > 0 {
			e.logger.Error("change pricing after payment",
				"subscription_id", subID.String(),
				"pricing_id", newPricingID.String(),
				"amount", paid,
				"error", err,
			)
		}
		return nil, err
	}

	if inv != nil {
		e.recordInvoice(ctx, inv)
		if from != sub.Status {
			e.plugins.EmitSubscriptionStatusChanged(ctx, sub, from)
		}
	}
	e.plugins.EmitSubscriptionCycleUpdated(ctx, sub)
	return sub, nil
}

// committedQuantityFor resolves the committed quantity sub carries once it
// moves to p.
func committedQuantityFor(sub *subscription.Subscription, p *pricing.Pricing, qty int64) (int64, error) {
	if !p.ChargeStyle.IsCommitted() {
		if qty != 0 {
			return 0, fmt.Errorf("%w: %s has no committed quantity", ErrInvalidChargeStyle, p.ChargeStyle)
		}
		return 0, nil
	}
	if qty > 0 {
		return qty, nil
	}
	if sub.CommittedQuantity > 0 {
		return sub.CommittedQuantity, nil
	}
	return 0, fmt.Errorf("%w: no committed quantity for %s", ErrInvalidQuantity, p.ChargeStyle)
}

func (e *Engine) authorizePricingChange(ctx context.Context, sub *subscription.Subscription) error {
	if isSystem(ctx) {
		return nil
	}
	c, err := caller(ctx)
	if err != nil {
		return err
	}
	if ok, err := e.isAdmin(ctx, sub.OrgID, c); err != nil || ok {
		return err
	}
	if c != sub.Subscriber {
		return ErrNotOrgAdmin
	}
	settings, err := e.store.GetSettings(ctx, sub.OrgID)
	if err != nil {
		return err
	}
	if !settings.SubscriberChangeablePricing {
		return ErrPricingChangeNotAllowed
	}
	return nil
}

// checkPricingFor verifies p can back sub. It must belong to the same org,
// be active and recurring, and be accessible to the subscriber.
func (e *Engine) checkPricingFor(ctx context.Context, p *pricing.Pricing, sub *subscription.Subscription) error {
	if p.OrgID != sub.OrgID {
		return fmt.Errorf("%w: %s", ErrPricingNotAuthorized, p.ID)
	}
	if !p.IsActive {
		return fmt.Errorf("%w: %s", ErrPricingInactive, p.ID)
	}
	if !p.ChargeStyle.IsRecurring() {
		return fmt.Errorf("%w: %s does not renew", ErrInvalidChargeStyle, p.ChargeStyle)
	}
	if p.IsRestricted {
		ok, err := e.store.HasAccess(ctx, p.ID, sub.Subscriber)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrPricingRestrictedAccess, p.ID)
		}
	}
	return nil
}

// periodCost prices one cycle of sub under p. Committed styles bill the
// committed quantity, usage styles bill the meter value accumulated for
// the subscriber, and a usage value of 0 bills nothing.
func (e *Engine) periodCost(ctx context.Context, sub *subscription.Subscription, p *pricing.Pricing) (qty, amount int64, err error) {
	switch {
	case p.ChargeStyle.IsCommitted():
		qty = sub.CommittedQuantity
	case p.ChargeStyle.IsUsage():
		qty, err = e.store.GetUsage(ctx, p.UsageMeterID, sub.Subscriber)
		if err != nil {
			return 0, 0, err
		}
		if qty == 0 {
			return 0, 0, nil
		}
	}
	cost, err := pricing.Cost(p, qty)
	if err != nil {
		return 0, 0, err
	}
	return qty, cost.Amount, nil
}

// collect takes amount of asset from payer and credits the org's escrow.
// A Treasury failure is reported as ErrPaymentFailed.
func (e *Engine) collect(ctx context.Context, payer, orgID, asset string, amount int64) (net, fee int64, err error) {
	if amount <= 0 {
		return 0, 0, nil
	}
	if err := e.treasury.Receive(ctx, payer, asset, amount); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}
	return e.credit(ctx, orgID, asset, amount)
}

func (e *Engine) recordInvoice(ctx context.Context, inv *invoice.Invoice) {
	if err := e.store.CreateInvoice(ctx, inv); err != nil {
		e.logger.Error("record invoice",
			"invoice_id", inv.ID.String(),
			"kind", inv.Kind,
			"error", err,
		)
	}
}
