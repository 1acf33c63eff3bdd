package tally_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
)

func TestCouponLifecycle(t *testing.T) {
	f := newFixture(t)
	c := f.coupon(t, &coupon.Coupon{Code: "SPRING", DiscountBps: 2000})

	byCode, err := f.engine.GetCouponByCode(context.Background(), orgID, "SPRING")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byCode.ID)

	err = f.engine.CreateCoupon(as(owner), &coupon.Coupon{OrgID: orgID, Code: "SPRING", DiscountBps: 100})
	assert.ErrorIs(t, err, tally.ErrCouponCodeTaken)

	// Codes are scoped per organization.
	require.NoError(t, f.engine.CreateCoupon(as(stranger), &coupon.Coupon{OrgID: otherOrg, Code: "SPRING", DiscountBps: 100}))

	bps := int64(3000)
	updated, err := f.engine.UpdateCoupon(as(admin), c.ID, coupon.Update{DiscountBps: &bps})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), updated.DiscountBps)

	tooMuch := int64(10001)
	_, err = f.engine.UpdateCoupon(as(admin), c.ID, coupon.Update{DiscountBps: &tooMuch})
	assert.ErrorIs(t, err, tally.ErrInvalidCouponDiscount)

	_, err = f.engine.UpdateCoupon(as(buyer), c.ID, coupon.Update{DiscountBps: &bps})
	assert.ErrorIs(t, err, tally.ErrNotOrgAdmin)

	assert.Equal(t, int64(7000), f.engine.DiscountedAmount(context.Background(), c.ID, 10000))
	assert.Equal(t, int64(10000), f.engine.DiscountedAmount(context.Background(), id.Nil, 10000))

	list, err := f.engine.GetOrgCoupons(context.Background(), orgID, coupon.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateCouponValidation(t *testing.T) {
	f := newFixture(t)

	err := f.engine.CreateCoupon(as(owner), &coupon.Coupon{OrgID: orgID, Code: "", DiscountBps: 100})
	assert.ErrorIs(t, err, tally.ErrInvalidCouponCode)

	err = f.engine.CreateCoupon(as(owner), &coupon.Coupon{OrgID: orgID, Code: "ZERO", DiscountBps: 0})
	assert.ErrorIs(t, err, tally.ErrInvalidCouponDiscount)
	assert.True(t, tally.IsValidation(err))
}

func TestRedeem(t *testing.T) {
	f := newFixture(t)
	c := f.coupon(t, &coupon.Coupon{Code: "VIP", DiscountBps: 2500, IsRestricted: true})

	require.ErrorIs(t, f.engine.IsRedeemable(context.Background(), c.ID, buyer, true), tally.ErrCouponRestricted)
	require.NoError(t, f.engine.SetCouponAccess(as(owner), c.ID, []string{buyer}, true))
	require.NoError(t, f.engine.IsRedeemable(context.Background(), c.ID, buyer, true))

	_, err := f.engine.Redeem(as(stranger), c.ID, buyer, true, 1000)
	assert.ErrorIs(t, err, tally.ErrNotSubscriber)

	amount, err := f.engine.Redeem(as(buyer), c.ID, buyer, true, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(750), amount)

	redeemed, err := f.engine.GetRedeemedCoupons(context.Background(), orgID, buyer)
	require.NoError(t, err)
	require.Len(t, redeemed, 1)
	assert.Equal(t, int64(1), redeemed[0].Count)

	expiry := epoch.Add(-1)
	_, err = f.engine.UpdateCoupon(as(owner), c.ID, coupon.Update{Expiration: &expiry})
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.IsRedeemable(context.Background(), c.ID, buyer, true), tally.ErrCouponExpired)
}

func TestCouponExpiresAfterInstant(t *testing.T) {
	f := newFixture(t)
	c := f.coupon(t, &coupon.Coupon{Code: "NOON", DiscountBps: 100, Expiration: epoch.Add(month)})

	f.clock.Advance(month)
	assert.NoError(t, f.engine.IsRedeemable(context.Background(), c.ID, buyer, false))
	f.clock.Advance(1)
	assert.ErrorIs(t, f.engine.IsRedeemable(context.Background(), c.ID, buyer, false), tally.ErrCouponExpired)
}

func TestStandingCouponMustBelongToOrg(t *testing.T) {
	f := newFixture(t)
	foreign := &coupon.Coupon{OrgID: otherOrg, Code: "THEIRS", DiscountBps: 100, IsActive: true}
	require.NoError(t, f.engine.CreateCoupon(as(stranger), foreign))

	err := f.engine.SetStandingCoupon(as(buyer), orgID, buyer, foreign.ID)
	assert.ErrorIs(t, err, tally.ErrCouponNotFound)

	c := f.coupon(t, &coupon.Coupon{Code: "MINE", DiscountBps: 100})
	require.NoError(t, f.engine.SetStandingCoupon(as(buyer), orgID, buyer, c.ID))
	got, err := f.engine.GetStandingCoupon(context.Background(), orgID, buyer)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got)

	require.NoError(t, f.engine.SetStandingCoupon(as(buyer), orgID, buyer, id.Nil))
	got, err = f.engine.GetStandingCoupon(context.Background(), orgID, buyer)
	require.NoError(t, err)
	assert.True(t, got.IsNil())
}

func TestDiscountLifecycle(t *testing.T) {
	f := newFixture(t)
	d := &discount.Discount{OrgID: orgID, Name: "partner", DiscountBps: 1500, MaxMints: 2, IsActive: true, IsRestricted: true}
	require.NoError(t, f.engine.CreateDiscount(as(owner), d))

	err := f.engine.CreateDiscount(as(owner), &discount.Discount{OrgID: orgID, Name: "partner", DiscountBps: 100})
	assert.ErrorIs(t, err, tally.ErrDiscountNameTaken)
	err = f.engine.CreateDiscount(as(owner), &discount.Discount{OrgID: orgID, Name: "free", DiscountBps: 10001})
	assert.ErrorIs(t, err, tally.ErrInvalidDiscount)

	assert.ErrorIs(t, f.engine.IsMintable(context.Background(), d.ID, buyer), tally.ErrDiscountRestricted)
	require.NoError(t, f.engine.SetDiscountAccess(as(admin), d.ID, []string{buyer, admin}, true))

	_, err = f.engine.Mint(as(buyer), d.ID, buyer)
	assert.ErrorIs(t, err, tally.ErrNotOrgAdmin)

	minted, err := f.engine.Mint(as(owner), d.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), minted.TotalMints)
	_, err = f.engine.Mint(as(owner), d.ID, admin)
	require.NoError(t, err)

	_, err = f.engine.Mint(as(owner), d.ID, buyer)
	assert.ErrorIs(t, err, tally.ErrDiscountExhausted)

	more := int64(0)
	updated, err := f.engine.UpdateDiscount(as(owner), d.ID, discount.Update{MaxMints: &more})
	require.NoError(t, err)
	assert.NoError(t, f.engine.IsMintable(context.Background(), updated.ID, buyer))

	other := f.discount(t, "loyal", 5000)
	assert.Equal(t, int64(4250), f.engine.DiscountedAmountFor(context.Background(), []id.DiscountID{d.ID, other.ID}, 10000))

	list, err := f.engine.GetOrgDiscounts(context.Background(), orgID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
