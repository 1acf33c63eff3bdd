package tally

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// ──────────────────────────────────────────────────
// Coupons
// ──────────────────────────────────────────────────

// CreateCoupon validates c and stores it with a fresh ID and zeroed
// redemption counter. Codes are unique per organization.
func (e *Engine) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	if err := e.requireOrg(ctx, c.OrgID); err != nil {
		return err
	}
	if err := e.requireAdmin(ctx, c.OrgID); err != nil {
		return err
	}
	if err := coupon.Validate(c); err != nil {
		return err
	}

	if c.ID.IsNil() {
		c.ID = id.NewCouponID()
	}
	c.TotalRedemptions = 0
	c.Entity = types.NewEntity(e.now())

	if err := e.store.CreateCoupon(ctx, c); err != nil {
		return err
	}

	e.logger.Debug("coupon created",
		"coupon_id", c.ID.String(),
		"org_id", c.OrgID,
		"discount_bps", c.DiscountBps,
	)
	e.plugins.EmitCouponCreated(ctx, c)
	return nil
}

// UpdateCoupon applies u to a coupon. The code and redemption counter
// cannot change.
func (e *Engine) UpdateCoupon(ctx context.Context, couponID id.CouponID, u coupon.Update) (*coupon.Coupon, error) {
	c, err := e.store.GetCoupon(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAdmin(ctx, c.OrgID); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(couponKey(couponID.String()))
	defer unlock()

	if c, err = e.store.GetCoupon(ctx, couponID); err != nil {
		return nil, err
	}
	u.Apply(c)
	if err := coupon.Validate(c); err != nil {
		return nil, err
	}
	c.Touch(e.now())

	if err := e.store.UpdateCoupon(ctx, c); err != nil {
		return nil, err
	}
	e.plugins.EmitCouponUpdated(ctx, c)
	return c, nil
}

// SetCouponAccess grants or revokes access to a restricted coupon.
func (e *Engine) SetCouponAccess(ctx context.Context, couponID id.CouponID, subscribers []string, granted bool) error {
	c, err := e.store.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}
	if err := e.requireAdmin(ctx, c.OrgID); err != nil {
		return err
	}
	if err := e.setAccess(ctx, c.ID, subscribers, granted); err != nil {
		return err
	}
	e.plugins.EmitCouponUpdated(ctx, c)
	return nil
}

// GetCoupon returns a coupon by ID.
func (e *Engine) GetCoupon(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	return e.store.GetCoupon(ctx, couponID)
}

// GetCouponByCode resolves a code within an organization.
func (e *Engine) GetCouponByCode(ctx context.Context, orgID, code string) (*coupon.Coupon, error) {
	return e.store.GetCouponByCode(ctx, orgID, code)
}

// GetOrgCoupons lists the coupons of an organization.
func (e *Engine) GetOrgCoupons(ctx context.Context, orgID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return e.store.ListCoupons(ctx, orgID, opts)
}

// GetRedeemedCoupons lists what subscriber has redeemed within orgID.
func (e *Engine) GetRedeemedCoupons(ctx context.Context, orgID, subscriber string) ([]*coupon.Redemption, error) {
	return e.store.ListRedemptions(ctx, orgID, subscriber)
}

// IsRedeemable runs the eligibility checks without redeeming. The first
// failing check decides the error.
func (e *Engine) IsRedeemable(ctx context.Context, couponID id.CouponID, subscriber string, initialPurchase bool) error {
	c, err := e.store.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}
	return e.checkRedeemable(ctx, c, subscriber, initialPurchase)
}

func (e *Engine) checkRedeemable(ctx context.Context, c *coupon.Coupon, subscriber string, initialPurchase bool) error {
	hasAccess := true
	if c.IsRestricted {
		ok, err := e.store.HasAccess(ctx, c.ID, subscriber)
		if err != nil {
			return err
		}
		hasAccess = ok
	}
	return coupon.CheckRedeemable(c, e.now(), initialPurchase, hasAccess)
}

// Redeem redeems a coupon for subscriber and returns amount after the
// coupon's discount. The caller must be the subscriber or an org admin.
func (e *Engine) Redeem(ctx context.Context, couponID id.CouponID, subscriber string, initialPurchase bool, amount int64) (int64, error) {
	c, err := e.store.GetCoupon(ctx, couponID)
	if err != nil {
		return 0, err
	}
	if err := e.requireSubscriberOrAdmin(ctx, c.OrgID, subscriber, false); err != nil {
		return 0, err
	}
	c, err = e.redeem(ctx, couponID, subscriber, initialPurchase)
	if err != nil {
		return 0, err
	}
	e.plugins.EmitCouponRedeemed(ctx, c, subscriber)
	return c.Apply(amount), nil
}

// redeem checks eligibility and records one redemption. It returns the
// coupon as redeemed. Events are left to the caller.
func (e *Engine) redeem(ctx context.Context, couponID id.CouponID, subscriber string, initialPurchase bool) (*coupon.Coupon, error) {
	unlock := e.locks.Lock(couponKey(couponID.String()))
	defer unlock()

	c, err := e.store.GetCoupon(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if err := e.checkRedeemable(ctx, c, subscriber, initialPurchase); err != nil {
		return nil, err
	}
	if c.IsOneTimeUse {
		r, err := e.store.GetRedemption(ctx, c.ID, subscriber)
		switch {
		case err == nil && r.Count > 0:
			return nil, ErrCouponAlreadyRedeemed
		case err != nil && !errors.Is(err, coupon.ErrNotFound):
			return nil, err
		}
	}

	if err := e.store.IncrementRedemptions(ctx, c.ID); err != nil {
		return nil, err
	}
	now := e.now()
	if err := e.store.RecordRedemption(ctx, &coupon.Redemption{
		CouponID:   c.ID,
		OrgID:      c.OrgID,
		Subscriber: subscriber,
		LastAt:     now,
	}); err != nil {
		_ = e.store.DecrementRedemptions(ctx, c.ID) //nolint:errcheck // best-effort rollback
		return nil, err
	}
	c.TotalRedemptions++
	return c, nil
}

// revertRedemption undoes redeem after a failed payment.
func (e *Engine) revertRedemption(ctx context.Context, c *coupon.Coupon, subscriber string) {
	unlock := e.locks.Lock(couponKey(c.ID.String()))
	defer unlock()

	if err := e.store.RevertRedemption(ctx, c.ID, subscriber); err != nil {
		e.logger.Error("revert coupon redemption",
			"coupon_id", c.ID.String(),
			"subscriber", subscriber,
			"error", err,
		)
	}
	if err := e.store.DecrementRedemptions(ctx, c.ID); err != nil {
		e.logger.Error("decrement coupon redemptions",
			"coupon_id", c.ID.String(),
			"error", err,
		)
	}
}

// DiscountedAmount returns amount after a coupon's discount. An unknown
// or nil coupon leaves amount unchanged.
func (e *Engine) DiscountedAmount(ctx context.Context, couponID id.CouponID, amount int64) int64 {
	if couponID.IsNil() {
		return amount
	}
	c, err := e.store.GetCoupon(ctx, couponID)
	if err != nil {
		return amount
	}
	return c.Apply(amount)
}

// SetStandingCoupon records the coupon redeemed on each of subscriber's
// renewals within orgID. A nil couponID clears it.
func (e *Engine) SetStandingCoupon(ctx context.Context, orgID, subscriber string, couponID id.CouponID) error {
	if err := e.requireSubscriberOrAdmin(ctx, orgID, subscriber, false); err != nil {
		return err
	}
	if !couponID.IsNil() {
		c, err := e.store.GetCoupon(ctx, couponID)
		if err != nil {
			return err
		}
		if c.OrgID != orgID {
			return fmt.Errorf("%w: %s", ErrCouponNotFound, couponID)
		}
	}
	return e.store.SetStandingCoupon(ctx, orgID, subscriber, couponID, e.now())
}

// GetStandingCoupon returns the standing coupon, id.Nil when none.
func (e *Engine) GetStandingCoupon(ctx context.Context, orgID, subscriber string) (id.CouponID, error) {
	return e.store.GetStandingCoupon(ctx, orgID, subscriber)
}
