package tally_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
)

const month = 30 * 24 * time.Hour

func TestRenewAtEndDate(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)
	sub := f.subscribe(t, buyer, p, 0)
	end := sub.EndDate
	require.Equal(t, epoch.Add(month), end)

	f.clock.Advance(month - time.Second)
	err := f.engine.Renew(as(buyer), sub.ID)
	assert.ErrorIs(t, err, tally.ErrNotReady)

	f.clock.Advance(time.Second)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))

	got := f.subscription(t, sub.ID)
	assert.Equal(t, end, got.StartDate)
	assert.Equal(t, end.Add(month), got.EndDate)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, int64(2000), f.treasury.paid(buyer))
	assert.Equal(t, int64(2000), f.orgBalance(t, "usd"))

	invs, err := f.engine.ListInvoices(context.Background(), invoice.ListOpts{SubscriptionID: sub.ID, Kind: invoice.KindRenewal})
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, int64(1000), invs[0].Total)
	assert.Equal(t, end, invs[0].PeriodStart)
}

func TestRenewBatchPartialFailure(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)

	a := f.subscribe(t, "subscriber-a", p, 0)
	b := f.subscribe(t, "subscriber-b", p, 0)
	f.clock.Advance(10 * 24 * time.Hour)
	c := f.subscribe(t, "subscriber-c", p, 0)

	f.clock.Advance(month - 10*24*time.Hour)
	f.treasury.decline("subscriber-b", true)

	results := f.engine.RenewBatch(as(owner), []id.SubscriptionID{a.ID, b.ID, c.ID})
	require.Len(t, results, 3)

	assert.Equal(t, a.ID, results[0].SubscriptionID)
	assert.Equal(t, tally.OutcomeSuccess, results[0].Outcome)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, int64(1000), results[0].Amount)

	assert.Equal(t, tally.OutcomeFailed, results[1].Outcome)
	assert.ErrorIs(t, results[1].Err, tally.ErrPaymentFailed)
	assert.ErrorIs(t, results[1].Err, errDeclined)

	assert.Equal(t, tally.OutcomeNotReady, results[2].Outcome)
	assert.ErrorIs(t, results[2].Err, tally.ErrNotReady)

	assert.Equal(t, a.EndDate.Add(month), f.subscription(t, a.ID).EndDate)

	gotB := f.subscription(t, b.ID)
	assert.Equal(t, subscription.StatusPastDue, gotB.Status)
	assert.Equal(t, b.EndDate, gotB.EndDate)
	assert.Equal(t, c.EndDate, f.subscription(t, c.ID).EndDate)

	err := tally.BatchError(results)
	require.Error(t, err)
	assert.ErrorIs(t, err, tally.ErrPaymentFailed)
	assert.Len(t, tally.Failed(results), 1)

	// Settling the payment clears past_due.
	f.treasury.decline("subscriber-b", false)
	require.NoError(t, f.engine.Renew(as("subscriber-b"), b.ID))
	gotB = f.subscription(t, b.ID)
	assert.Equal(t, subscription.StatusActive, gotB.Status)
	assert.Equal(t, b.EndDate.Add(month), gotB.EndDate)
}

func TestRenewBlockedStates(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 500)
	require.NoError(t, f.engine.SetPausable(as(owner), orgID, true))

	paused := f.subscribe(t, "p1", p, 0)
	cancelled := f.subscribe(t, "p2", p, 0)
	ready := f.subscribe(t, "p3", p, 0)

	_, err := f.engine.PauseSubscription(as("p1"), paused.ID)
	require.NoError(t, err)
	_, err = f.engine.CancelSubscription(as("p2"), cancelled.ID)
	require.NoError(t, err)

	f.clock.Advance(month)
	ids := []id.SubscriptionID{paused.ID, cancelled.ID, ready.ID}

	checks := f.engine.CheckRenewals(context.Background(), ids)
	assert.Equal(t, tally.OutcomePaused, checks[0].Outcome)
	assert.Equal(t, tally.OutcomeCancelled, checks[1].Outcome)
	assert.Equal(t, tally.OutcomeReady, checks[2].Outcome)
	assert.Equal(t, int64(500), f.treasury.paid("p3"), "dry run charges nothing")

	results := f.engine.RenewBatch(as(renewer), ids)
	assert.Equal(t, tally.OutcomePaused, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, tally.ErrSubscriptionPaused)
	assert.Equal(t, tally.OutcomeCancelled, results[1].Outcome)
	assert.ErrorIs(t, results[1].Err, tally.ErrSubscriptionCancelled)
	assert.Equal(t, tally.OutcomeSuccess, results[2].Outcome)
}

func TestRenewRequiresSubscriberAdminOrRenewer(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 500)
	sub := f.subscribe(t, buyer, p, 0)
	f.clock.Advance(month)

	err := f.engine.Renew(as(stranger), sub.ID)
	assert.ErrorIs(t, err, tally.ErrNotSubscriber)
	assert.True(t, tally.IsAuthorization(err))

	err = f.engine.Renew(context.Background(), sub.ID)
	assert.ErrorIs(t, err, tally.ErrNoCaller)

	require.NoError(t, f.engine.Renew(as(renewer), sub.ID))
}

func TestRenewRange(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 100)

	var subs []*subscription.Subscription
	for _, account := range []string{"r1", "r2", "r3", "r4"} {
		subs = append(subs, f.subscribe(t, account, p, 0))
	}
	slices.SortFunc(subs, func(a, b *subscription.Subscription) int { return a.ID.Compare(b.ID) })
	f.clock.Advance(month)

	results, err := f.engine.RenewRange(as(admin), orgID, subs[1].ID, subs[2].ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, subs[1].ID, results[0].SubscriptionID)
	assert.Equal(t, subs[2].ID, results[1].SubscriptionID)
	for _, r := range results {
		assert.Equal(t, tally.OutcomeSuccess, r.Outcome)
	}
	assert.Equal(t, subs[0].EndDate, f.subscription(t, subs[0].ID).EndDate)
}

func TestRenewDueRunsWithoutCaller(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 100)
	first := f.subscribe(t, "d1", p, 0)
	f.clock.Advance(24 * time.Hour)
	second := f.subscribe(t, "d2", p, 0)

	f.clock.Advance(month - 24*time.Hour)
	results, err := f.engine.RenewDue(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, first.ID, results[0].SubscriptionID)
	assert.Equal(t, tally.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, second.EndDate, f.subscription(t, second.ID).EndDate)
}

func TestRenewDueRenewsActiveBeforePastDue(t *testing.T) {
	f := newFixture(t, tally.WithRenewalConfig(tally.RenewalConfig{BatchSize: 2}))
	p := f.monthly(t, 100)
	f.subscribe(t, "late1", p, 0)
	f.subscribe(t, "late2", p, 0)
	f.clock.Advance(24 * time.Hour)
	good := f.subscribe(t, "good", p, 0)

	f.treasury.decline("late1", true)
	f.treasury.decline("late2", true)
	f.clock.Advance(month - 24*time.Hour)
	results, err := f.engine.RenewDue(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, tally.OutcomeFailed, r.Outcome)
		assert.Equal(t, subscription.StatusPastDue, f.subscription(t, r.SubscriptionID).Status)
	}

	// Both past-due subscriptions still fill a batch, but the newly due
	// active one goes first.
	f.clock.Advance(24 * time.Hour)
	results, err = f.engine.RenewDue(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, good.ID, results[0].SubscriptionID)
	assert.Equal(t, tally.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, good.EndDate.Add(month), f.subscription(t, good.ID).EndDate)
	assert.Equal(t, tally.OutcomeFailed, results[1].Outcome)
	retried := results[1].SubscriptionID

	// The past-due subscription retried last waits behind the other one.
	f.clock.Advance(time.Hour)
	results, err = f.engine.RenewDue(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEqual(t, retried, results[0].SubscriptionID)
	assert.Equal(t, retried, results[1].SubscriptionID)
}

func TestRenewUsageBillsMeterAndResets(t *testing.T) {
	f := newFixture(t)
	m := f.usageMeter(t)

	p := f.createPricing(t, &pricing.Pricing{
		Name:            "metered",
		ChargeStyle:     pricing.UsageVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
		UsageMeterID:    m.ID,
	})
	sub := f.subscribe(t, buyer, p, 0)
	assert.Zero(t, f.treasury.paid(buyer), "usage lines cost nothing at checkout")

	_, err := f.engine.IncreaseMeterUsage(as(owner), m.ID, buyer, 150)
	require.NoError(t, err)

	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))
	assert.Equal(t, int64(30020), f.treasury.paid(buyer))

	usage, err := f.engine.GetMeterUsage(context.Background(), m.ID, buyer)
	require.NoError(t, err)
	assert.Zero(t, usage)

	// No usage in the next cycle charges nothing but still advances.
	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))
	assert.Equal(t, int64(30020), f.treasury.paid(buyer))
	assert.Equal(t, sub.EndDate.Add(2*month), f.subscription(t, sub.ID).EndDate)
}

func TestRenewAppliesPendingPricing(t *testing.T) {
	f := newFixture(t)
	basic := f.monthly(t, 1000)
	pro := f.monthly(t, 3000)
	sub := f.subscribe(t, buyer, basic, 0)

	_, err := f.engine.ChangePricing(as(owner), sub.ID, pro.ID, false, 0)
	require.NoError(t, err)
	assert.Equal(t, pro.ID, f.subscription(t, sub.ID).PendingPricingID)

	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))

	got := f.subscription(t, sub.ID)
	assert.Equal(t, pro.ID, got.PricingID)
	assert.True(t, got.PendingPricingID.IsNil())
	assert.Equal(t, int64(4000), f.treasury.paid(buyer))
}

func TestRenewInactivePricingFails(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)
	sub := f.subscribe(t, buyer, p, 0)

	inactive := false
	_, err := f.engine.UpdatePricing(as(owner), p.ID, pricing.Update{IsActive: &inactive})
	require.NoError(t, err)

	f.clock.Advance(month)
	err = f.engine.Renew(as(buyer), sub.ID)
	assert.ErrorIs(t, err, tally.ErrPricingInactive)
	assert.Equal(t, subscription.StatusActive, f.subscription(t, sub.ID).Status)
}

func TestRenewStandingCoupon(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)
	sub := f.subscribe(t, buyer, p, 0)

	c := &coupon.Coupon{OrgID: orgID, Code: "LOYAL", DiscountBps: 5000, MaxTotalRedemptions: 1, IsActive: true}
	require.NoError(t, f.engine.CreateCoupon(as(owner), c))
	require.NoError(t, f.engine.SetStandingCoupon(as(buyer), orgID, buyer, c.ID))

	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))
	assert.Equal(t, int64(1500), f.treasury.paid(buyer))

	// Exhausted coupons are skipped, never failing the renewal.
	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))
	assert.Equal(t, int64(2500), f.treasury.paid(buyer))

	got, err := f.engine.GetCoupon(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalRedemptions)
}

func TestRenewPaymentFailureRevertsStandingCoupon(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)
	sub := f.subscribe(t, buyer, p, 0)

	c := &coupon.Coupon{OrgID: orgID, Code: "SAVE", DiscountBps: 1000, IsActive: true}
	require.NoError(t, f.engine.CreateCoupon(as(owner), c))
	require.NoError(t, f.engine.SetStandingCoupon(as(buyer), orgID, buyer, c.ID))

	f.clock.Advance(month)
	f.treasury.decline(buyer, true)
	err := f.engine.Renew(as(buyer), sub.ID)
	require.ErrorIs(t, err, tally.ErrPaymentFailed)

	got, err := f.engine.GetCoupon(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalRedemptions)

	redeemed, err := f.engine.GetRedeemedCoupons(context.Background(), orgID, buyer)
	require.NoError(t, err)
	assert.Empty(t, redeemed)
}
