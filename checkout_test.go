package tally_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
)

func (f *fixture) coupon(t *testing.T, c *coupon.Coupon) *coupon.Coupon {
	t.Helper()
	if c.OrgID == "" {
		c.OrgID = orgID
	}
	c.IsActive = true
	require.NoError(t, f.engine.CreateCoupon(as(owner), c))
	return c
}

func (f *fixture) discount(t *testing.T, name string, bps int64) *discount.Discount {
	t.Helper()
	d := &discount.Discount{OrgID: orgID, Name: name, DiscountBps: bps, IsActive: true}
	require.NoError(t, f.engine.CreateDiscount(as(owner), d))
	return d
}

func (f *fixture) subscriptionsOf(t *testing.T, account string) []*subscription.Subscription {
	t.Helper()
	subs, err := f.engine.ListSubscriptions(context.Background(), subscription.ListOpts{OrgID: orgID, Subscriber: account})
	require.NoError(t, err)
	return subs
}

func line(p *pricing.Pricing, qty int64) tally.CheckoutLine {
	return tally.CheckoutLine{PricingID: p.ID, ProductID: "product", Quantity: qty}
}

func TestCheckoutFlatRateWithFee(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetFeeEnabled(as(feeAdmin), true))
	require.NoError(t, f.engine.SetFeeRate(as(feeAdmin), "usd", 250))

	p := f.monthly(t, 10000)
	res, err := f.engine.Checkout(as(buyer), tally.CheckoutRequest{
		OrgID: orgID,
		Lines: []tally.CheckoutLine{line(p, 0)},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), f.treasury.paid(buyer))
	assert.Equal(t, int64(9750), f.orgBalance(t, "usd"))
	fee, err := f.engine.GetFeeBalance(context.Background(), "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(250), fee)

	inv := res.Invoice
	assert.Equal(t, invoice.KindCheckout, inv.Kind)
	assert.Equal(t, int64(10000), inv.Subtotal)
	assert.Equal(t, int64(10000), inv.Total)
	assert.Equal(t, int64(250), inv.Fee)
	assert.Equal(t, int64(9750), inv.Net)
	assert.Equal(t, res.CheckoutID, inv.CheckoutID)

	require.Len(t, res.Subscriptions, 1)
	sub := res.Subscriptions[0]
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, epoch, sub.StartDate)
	assert.Equal(t, epoch.Add(month), sub.EndDate)
	assert.Equal(t, res.CheckoutID, sub.CheckoutID)
	assert.Equal(t, sub.ID, inv.LineItems[0].SubscriptionID)

	stored, err := f.engine.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Total, stored.Total)
}

func TestCheckoutFeeExemptOrg(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetFeeEnabled(as(feeAdmin), true))
	require.NoError(t, f.engine.SetFeeRate(as(feeAdmin), "usd", 250))
	require.NoError(t, f.engine.SetFeeExempt(as(feeAdmin), orgID, true))

	f.subscribe(t, buyer, f.monthly(t, 10000), 0)
	assert.Equal(t, int64(10000), f.orgBalance(t, "usd"))
}

func TestCheckoutTieredQuantities(t *testing.T) {
	f := newFixture(t)
	volume := f.createPricing(t, &pricing.Pricing{
		Name:            "seats",
		ChargeStyle:     pricing.TieredVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
	})
	graduated := f.createPricing(t, &pricing.Pricing{
		Name:            "seats graduated",
		ChargeStyle:     pricing.TieredGraduated,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers: []pricing.Tier{
			{LowerBound: 0, UpperBound: 100, PricePerUnit: 100, PriceFlatRate: 10},
			{LowerBound: 101, UpperBound: 0, PricePerUnit: 200, PriceFlatRate: 20},
		},
	})

	sub := f.subscribe(t, buyer, volume, 150)
	assert.Equal(t, int64(150), sub.CommittedQuantity)
	assert.Equal(t, int64(30020), f.treasury.paid(buyer))

	f.subscribe(t, admin, graduated, 150)
	assert.Equal(t, int64(20020), f.treasury.paid(admin))

	_, err := f.engine.Checkout(as(buyer), tally.CheckoutRequest{
		OrgID: orgID,
		Lines: []tally.CheckoutLine{line(volume, 0)},
	})
	assert.ErrorIs(t, err, tally.ErrInvalidQuantity)
}

func TestCheckoutOneTimeLineOpensNoSubscription(t *testing.T) {
	f := newFixture(t)
	setup := f.createPricing(t, &pricing.Pricing{
		Name:        "setup fee",
		ChargeStyle: pricing.OneTime,
		FlatPrice:   500,
	})
	p := f.monthly(t, 1000)

	res, err := f.engine.Checkout(as(buyer), tally.CheckoutRequest{
		OrgID: orgID,
		Lines: []tally.CheckoutLine{line(setup, 0), line(p, 0)},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1500), res.Invoice.Total)
	require.Len(t, res.Invoice.LineItems, 2)
	assert.True(t, res.Invoice.LineItems[0].SubscriptionID.IsNil())
	require.Len(t, res.Subscriptions, 1)
	assert.Equal(t, p.ID, res.Subscriptions[0].PricingID)
}

func TestCheckoutDiscountsThenCoupon(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 10000)
	d := f.discount(t, "launch", 1000)
	c := f.coupon(t, &coupon.Coupon{Code: "QUARTER", DiscountBps: 2500})

	res, err := f.engine.Checkout(as(buyer), tally.CheckoutRequest{
		OrgID:       orgID,
		Lines:       []tally.CheckoutLine{line(p, 0)},
		CouponID:    c.ID,
		DiscountIDs: []id.DiscountID{d.ID},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(6750), res.Invoice.Total)
	assert.Equal(t, int64(3250), res.Invoice.DiscountAmount)
	assert.Equal(t, c.ID, res.Invoice.CouponID)
	assert.Equal(t, []id.DiscountID{d.ID}, res.Subscriptions[0].DiscountIDs)

	gotD, err := f.engine.GetDiscount(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gotD.TotalMints)

	gotC, err := f.engine.GetCoupon(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gotC.TotalRedemptions)

	// The discount is reapplied at renewal; the checkout coupon is not.
	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), res.Subscriptions[0].ID))
	assert.Equal(t, int64(6750+9000), f.treasury.paid(buyer))
}

func TestCheckoutCouponExhaustedLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)
	d := f.discount(t, "launch", 1000)
	c := f.coupon(t, &coupon.Coupon{Code: "FIRST", DiscountBps: 5000, MaxTotalRedemptions: 1})

	req := tally.CheckoutRequest{
		OrgID:       orgID,
		Lines:       []tally.CheckoutLine{line(p, 0)},
		CouponID:    c.ID,
		DiscountIDs: []id.DiscountID{d.ID},
	}
	_, err := f.engine.Checkout(as(buyer), req)
	require.NoError(t, err)

	_, err = f.engine.Checkout(as(admin), req)
	require.ErrorIs(t, err, tally.ErrCouponExhausted)
	assert.True(t, tally.IsValidation(err))

	assert.Zero(t, f.treasury.paid(admin))
	assert.Empty(t, f.subscriptionsOf(t, admin))

	gotD, err := f.engine.GetDiscount(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gotD.TotalMints)
}

func TestCheckoutPaymentFailureReverts(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)
	d := f.discount(t, "launch", 1000)
	c := f.coupon(t, &coupon.Coupon{Code: "SAVE", DiscountBps: 1000, IsOneTimeUse: true})

	f.treasury.decline(buyer, true)
	req := tally.CheckoutRequest{
		OrgID:       orgID,
		Lines:       []tally.CheckoutLine{line(p, 0)},
		CouponID:    c.ID,
		DiscountIDs: []id.DiscountID{d.ID},
	}
	_, err := f.engine.Checkout(as(buyer), req)
	require.ErrorIs(t, err, tally.ErrPaymentFailed)
	assert.ErrorIs(t, err, errDeclined)

	gotC, err := f.engine.GetCoupon(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Zero(t, gotC.TotalRedemptions)
	gotD, err := f.engine.GetDiscount(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Zero(t, gotD.TotalMints)
	assert.Empty(t, f.subscriptionsOf(t, buyer))
	assert.Zero(t, f.orgBalance(t, "usd"))

	// The one-time coupon is still available once payment succeeds.
	f.treasury.decline(buyer, false)
	_, err = f.engine.Checkout(as(buyer), req)
	require.NoError(t, err)
}

func TestCheckoutCouponRules(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)
	initial := f.coupon(t, &coupon.Coupon{Code: "WELCOME", DiscountBps: 1000, IsInitialPurchaseOnly: true})
	once := f.coupon(t, &coupon.Coupon{Code: "ONCE", DiscountBps: 1000, IsOneTimeUse: true})

	checkout := func(account string, c *coupon.Coupon) error {
		_, err := f.engine.Checkout(as(account), tally.CheckoutRequest{
			OrgID:    orgID,
			Lines:    []tally.CheckoutLine{line(p, 0)},
			CouponID: c.ID,
		})
		return err
	}

	require.NoError(t, checkout(buyer, initial))
	assert.ErrorIs(t, checkout(buyer, initial), tally.ErrCouponInitialPurchaseOnly)

	require.NoError(t, checkout(buyer, once))
	assert.ErrorIs(t, checkout(buyer, once), tally.ErrCouponAlreadyRedeemed)
	require.NoError(t, checkout(admin, once))

	redeemed, err := f.engine.GetRedeemedCoupons(context.Background(), orgID, buyer)
	require.NoError(t, err)
	assert.Len(t, redeemed, 2)
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	flat := f.monthly(t, 1000)
	inactive := f.monthly(t, 1000)
	isActive := false
	_, err := f.engine.UpdatePricing(as(owner), inactive.ID, pricing.Update{IsActive: &isActive})
	require.NoError(t, err)
	restricted := f.createPricing(t, &pricing.Pricing{
		Name:            "private",
		ChargeStyle:     pricing.FlatRate,
		ChargeFrequency: pricing.FrequencyMonthly,
		FlatPrice:       1000,
		IsRestricted:    true,
	})
	stable := f.createPricing(t, &pricing.Pricing{
		Name:            "stable",
		ChargeStyle:     pricing.FlatRate,
		ChargeFrequency: pricing.FrequencyMonthly,
		FlatPrice:       1000,
		Asset:           "USDC",
	})
	foreign := &pricing.Pricing{
		OrgID:           otherOrg,
		Name:            "foreign",
		ChargeStyle:     pricing.FlatRate,
		ChargeFrequency: pricing.FrequencyMonthly,
		FlatPrice:       1000,
		Asset:           "usd",
		IsActive:        true,
	}
	require.NoError(t, f.engine.CreatePricing(as(stranger), foreign))
	foreignCoupon := &coupon.Coupon{OrgID: otherOrg, Code: "THEIRS", DiscountBps: 100, IsActive: true}
	require.NoError(t, f.engine.CreateCoupon(as(stranger), foreignCoupon))
	d := f.discount(t, "launch", 1000)

	m := f.usageMeter(t)
	usage := f.createPricing(t, &pricing.Pricing{
		Name:            "metered",
		ChargeStyle:     pricing.UsageGraduated,
		ChargeFrequency: pricing.FrequencyMonthly,
		UsageMeterID:    m.ID,
		Tiers:           []pricing.Tier{{LowerBound: 0, UpperBound: 0, PricePerUnit: 1}},
	})

	tests := []struct {
		name    string
		ctx     context.Context
		req     tally.CheckoutRequest
		wantErr error
	}{
		{"no caller", context.Background(), tally.CheckoutRequest{OrgID: orgID, Lines: []tally.CheckoutLine{line(flat, 0)}}, tally.ErrNoCaller},
		{"unknown org", as(buyer), tally.CheckoutRequest{OrgID: "initech", Lines: []tally.CheckoutLine{line(flat, 0)}}, tally.ErrOrganizationNotFound},
		{"no lines", as(buyer), tally.CheckoutRequest{OrgID: orgID}, tally.ErrInvalidInput},
		{"inactive pricing", as(buyer), tally.CheckoutRequest{OrgID: orgID, Lines: []tally.CheckoutLine{line(inactive, 0)}}, tally.ErrPricingInactive},
		{"restricted pricing", as(buyer), tally.CheckoutRequest{OrgID: orgID, Lines: []tally.CheckoutLine{line(restricted, 0)}}, tally.ErrPricingRestrictedAccess},
		{"other org pricing", as(buyer), tally.CheckoutRequest{OrgID: orgID, Lines: []tally.CheckoutLine{line(foreign, 0)}}, tally.ErrPricingNotAuthorized},
		{"mixed assets", as(buyer), tally.CheckoutRequest{OrgID: orgID, Lines: []tally.CheckoutLine{line(flat, 0), line(stable, 0)}}, tally.ErrPricingTokensMismatch},
		{"flat with quantity", as(buyer), tally.CheckoutRequest{OrgID: orgID, Lines: []tally.CheckoutLine{line(flat, 3)}}, tally.ErrInvalidQuantity},
		{"usage with quantity", as(buyer), tally.CheckoutRequest{OrgID: orgID, Lines: []tally.CheckoutLine{line(usage, 5)}}, tally.ErrInvalidQuantity},
		{"other org coupon", as(buyer), tally.CheckoutRequest{OrgID: orgID, Lines: []tally.CheckoutLine{line(flat, 0)}, CouponID: foreignCoupon.ID}, tally.ErrCouponNotFound},
		{"duplicate discounts", as(buyer), tally.CheckoutRequest{OrgID: orgID, Lines: []tally.CheckoutLine{line(flat, 0)}, DiscountIDs: []id.DiscountID{d.ID, d.ID}}, tally.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Checkout(tt.ctx, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Zero(t, f.treasury.paid(buyer))
	assert.Empty(t, f.subscriptionsOf(t, buyer))

	require.NoError(t, f.engine.SetPricingAccess(as(admin), restricted.ID, []string{buyer}, true))
	f.subscribe(t, buyer, restricted, 0)
}

func TestValidateCheckoutQuote(t *testing.T) {
	f := newFixture(t)
	setup := f.createPricing(t, &pricing.Pricing{Name: "setup", ChargeStyle: pricing.OneTime, FlatPrice: 100})
	p := f.monthly(t, 1000)

	quote, err := f.engine.ValidateCheckout(context.Background(), orgID, buyer,
		[]id.PricingID{setup.ID, p.ID}, []int64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "usd", quote.Asset)
	assert.Equal(t, []time.Duration{0, month}, quote.Cycles)

	_, err = f.engine.ValidateCheckout(context.Background(), orgID, buyer,
		[]id.PricingID{p.ID}, []int64{0, 0})
	assert.ErrorIs(t, err, tally.ErrInvalidInput)
}
