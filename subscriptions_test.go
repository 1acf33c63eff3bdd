package tally_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/subscription"
)

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, buyer, f.monthly(t, 1000), 0)

	_, err := f.engine.PauseSubscription(as(buyer), sub.ID)
	require.ErrorIs(t, err, tally.ErrNotPausable)

	require.NoError(t, f.engine.SetPausable(as(owner), orgID, true))
	paused, err := f.engine.PauseSubscription(as(buyer), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPaused, paused.Status)

	_, err = f.engine.PauseSubscription(as(buyer), sub.ID)
	assert.ErrorIs(t, err, tally.ErrSubscriptionPaused)

	f.clock.Advance(month)
	assert.ErrorIs(t, f.engine.Renew(as(buyer), sub.ID), tally.ErrSubscriptionPaused)

	resumed, err := f.engine.ResumeSubscription(as(buyer), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, resumed.Status)
	assert.Equal(t, sub.EndDate, resumed.EndDate)

	_, err = f.engine.ResumeSubscription(as(buyer), sub.ID)
	assert.ErrorIs(t, err, tally.ErrInvalidTransition)
}

func TestPauseRequiresSubscriberOrAdmin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetPausable(as(owner), orgID, true))
	sub := f.subscribe(t, buyer, f.monthly(t, 1000), 0)

	_, err := f.engine.PauseSubscription(as(stranger), sub.ID)
	assert.ErrorIs(t, err, tally.ErrNotSubscriber)

	_, err = f.engine.PauseSubscription(as(admin), sub.ID)
	assert.NoError(t, err)
}

func TestSetPausableRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	err := f.engine.SetPausable(as(buyer), orgID, true)
	assert.ErrorIs(t, err, tally.ErrNotOrgAdmin)
	assert.Equal(t, "Not an admin of the organization", err.Error())

	settings, err := f.engine.GetOrgSettings(context.Background(), orgID)
	require.NoError(t, err)
	assert.False(t, settings.Pausable)
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetPausable(as(owner), orgID, true))
	sub := f.subscribe(t, buyer, f.monthly(t, 1000), 0)

	cancelled, err := f.engine.CancelSubscription(as(buyer), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, cancelled.Status)

	_, err = f.engine.CancelSubscription(as(buyer), sub.ID)
	assert.ErrorIs(t, err, tally.ErrSubscriptionCancelled)
	_, err = f.engine.PauseSubscription(as(buyer), sub.ID)
	assert.ErrorIs(t, err, tally.ErrSubscriptionCancelled)
	_, err = f.engine.ResumeSubscription(as(buyer), sub.ID)
	assert.ErrorIs(t, err, tally.ErrSubscriptionCancelled)
	_, err = f.engine.ChangeQuantity(as(buyer), sub.ID, 5)
	assert.ErrorIs(t, err, tally.ErrSubscriptionCancelled)

	f.clock.Advance(month)
	assert.ErrorIs(t, f.engine.Renew(as(buyer), sub.ID), tally.ErrSubscriptionCancelled)
}

func TestChangeQuantity(t *testing.T) {
	f := newFixture(t)
	seats := f.createPricing(t, &pricing.Pricing{
		Name:            "seats",
		ChargeStyle:     pricing.TieredVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
	})
	sub := f.subscribe(t, buyer, seats, 10)

	_, err := f.engine.ChangeQuantity(as(buyer), sub.ID, 0)
	assert.ErrorIs(t, err, tally.ErrInvalidQuantity)

	got, err := f.engine.ChangeQuantity(as(buyer), sub.ID, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.CommittedQuantity)

	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))
	assert.Equal(t, int64(1010+30020), f.treasury.paid(buyer))

	flat := f.subscribe(t, admin, f.monthly(t, 1000), 0)
	_, err = f.engine.ChangeQuantity(as(admin), flat.ID, 3)
	assert.ErrorIs(t, err, tally.ErrInvalidChargeStyle)
}

func TestChangePricingDeferred(t *testing.T) {
	f := newFixture(t)
	basic := f.monthly(t, 1000)
	seats := f.createPricing(t, &pricing.Pricing{
		Name:            "seats",
		ChargeStyle:     pricing.TieredVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
	})
	sub := f.subscribe(t, buyer, basic, 0)

	_, err := f.engine.ChangePricing(as(admin), sub.ID, seats.ID, false, 0)
	require.ErrorIs(t, err, tally.ErrInvalidQuantity)

	got, err := f.engine.ChangePricing(as(admin), sub.ID, seats.ID, false, 20)
	require.NoError(t, err)
	assert.Equal(t, basic.ID, got.PricingID)
	assert.Equal(t, seats.ID, got.PendingPricingID)
	assert.Equal(t, int64(20), got.CommittedQuantity)
	assert.Equal(t, int64(1000), f.treasury.paid(buyer))

	// The pending tiered pricing accepts a new committed quantity.
	_, err = f.engine.ChangeQuantity(as(buyer), sub.ID, 50)
	require.NoError(t, err)

	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))
	got = f.subscription(t, sub.ID)
	assert.Equal(t, seats.ID, got.PricingID)
	assert.Equal(t, int64(1000+5010), f.treasury.paid(buyer))
}

func TestChangePricingImmediate(t *testing.T) {
	f := newFixture(t)
	basic := f.monthly(t, 1000)
	pro := f.createPricing(t, &pricing.Pricing{
		Name:            "pro weekly",
		ChargeStyle:     pricing.FlatRate,
		ChargeFrequency: pricing.FrequencyWeekly,
		FlatPrice:       400,
	})
	sub := f.subscribe(t, buyer, basic, 0)
	f.clock.Advance(10 * 24 * time.Hour)

	got, err := f.engine.ChangePricing(as(owner), sub.ID, pro.ID, true, 0)
	require.NoError(t, err)
	now := epoch.Add(10 * 24 * time.Hour)
	assert.Equal(t, pro.ID, got.PricingID)
	assert.Equal(t, now, got.StartDate)
	assert.Equal(t, now.Add(7*24*time.Hour), got.EndDate)
	assert.Equal(t, int64(1400), f.treasury.paid(buyer))

	invs, err := f.engine.ListInvoices(context.Background(), invoice.ListOpts{SubscriptionID: sub.ID, Kind: invoice.KindPricingChange})
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, int64(400), invs[0].Total)
}

func TestChangePricingImmediatePaymentFailure(t *testing.T) {
	f := newFixture(t)
	basic := f.monthly(t, 1000)
	pro := f.monthly(t, 3000)
	sub := f.subscribe(t, buyer, basic, 0)

	f.treasury.decline(buyer, true)
	_, err := f.engine.ChangePricing(as(owner), sub.ID, pro.ID, true, 0)
	require.ErrorIs(t, err, tally.ErrPaymentFailed)

	got := f.subscription(t, sub.ID)
	assert.Equal(t, basic.ID, got.PricingID)
	assert.Equal(t, sub.EndDate, got.EndDate)
}

func TestChangePricingFlatToTiered(t *testing.T) {
	f := newFixture(t)
	basic := f.monthly(t, 1000)
	seats := f.createPricing(t, &pricing.Pricing{
		Name:            "seats",
		ChargeStyle:     pricing.TieredVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
	})
	sub := f.subscribe(t, buyer, basic, 0)

	_, err := f.engine.ChangeQuantity(as(admin), sub.ID, 5)
	assert.ErrorIs(t, err, tally.ErrInvalidChargeStyle)
	_, err = f.engine.ChangePricing(as(owner), sub.ID, seats.ID, true, 0)
	assert.ErrorIs(t, err, tally.ErrInvalidQuantity)
	_, err = f.engine.ChangePricing(as(owner), sub.ID, seats.ID, true, -1)
	assert.ErrorIs(t, err, tally.ErrInvalidQuantity)

	got, err := f.engine.ChangePricing(as(owner), sub.ID, seats.ID, true, 5)
	require.NoError(t, err)
	assert.Equal(t, seats.ID, got.PricingID)
	assert.Equal(t, int64(5), got.CommittedQuantity)
	assert.Equal(t, int64(1000+510), f.treasury.paid(buyer))

	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))
	assert.Equal(t, int64(1000+510+510), f.treasury.paid(buyer))
	assert.Equal(t, subscription.StatusActive, f.subscription(t, sub.ID).Status)
}

func TestChangePricingTieredToUsageAndBack(t *testing.T) {
	f := newFixture(t)
	m := f.usageMeter(t)
	seats := f.createPricing(t, &pricing.Pricing{
		Name:            "seats",
		ChargeStyle:     pricing.TieredVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
	})
	metered := f.createPricing(t, &pricing.Pricing{
		Name:            "metered",
		ChargeStyle:     pricing.UsageVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
		UsageMeterID:    m.ID,
	})
	sub := f.subscribe(t, buyer, seats, 5)
	require.Equal(t, int64(510), f.treasury.paid(buyer))

	_, err := f.engine.ChangePricing(as(owner), sub.ID, metered.ID, false, 5)
	assert.ErrorIs(t, err, tally.ErrInvalidChargeStyle)

	got, err := f.engine.ChangePricing(as(owner), sub.ID, metered.ID, false, 0)
	require.NoError(t, err)
	assert.Equal(t, metered.ID, got.PendingPricingID)
	assert.Zero(t, got.CommittedQuantity)

	_, err = f.engine.IncreaseMeterUsage(as(owner), m.ID, buyer, 3)
	require.NoError(t, err)
	f.clock.Advance(month)
	require.NoError(t, f.engine.Renew(as(buyer), sub.ID))
	assert.Equal(t, metered.ID, f.subscription(t, sub.ID).PricingID)
	assert.Equal(t, int64(510+310), f.treasury.paid(buyer))

	// The committed quantity was dropped with the tiered pricing.
	_, err = f.engine.ChangePricing(as(owner), sub.ID, seats.ID, true, 0)
	assert.ErrorIs(t, err, tally.ErrInvalidQuantity)

	got, err = f.engine.ChangePricing(as(owner), sub.ID, seats.ID, true, 2)
	require.NoError(t, err)
	assert.Equal(t, seats.ID, got.PricingID)
	assert.Equal(t, int64(2), got.CommittedQuantity)
	assert.Equal(t, int64(510+310+210), f.treasury.paid(buyer))
}

func TestChangePricingKeepsCommittedQuantity(t *testing.T) {
	f := newFixture(t)
	seats := f.createPricing(t, &pricing.Pricing{
		Name:            "seats",
		ChargeStyle:     pricing.TieredVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
	})
	graduated := f.createPricing(t, &pricing.Pricing{
		Name:            "seats graduated",
		ChargeStyle:     pricing.TieredGraduated,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
	})
	sub := f.subscribe(t, buyer, seats, 7)

	got, err := f.engine.ChangePricing(as(owner), sub.ID, graduated.ID, false, 0)
	require.NoError(t, err)
	assert.Equal(t, graduated.ID, got.PendingPricingID)
	assert.Equal(t, int64(7), got.CommittedQuantity)
}

// failingUpdateStore fails subscription updates once fail is set.
type failingUpdateStore struct {
	*memory.Store
	fail bool
}

var errStoreDown = errors.New("store down")

func (s *failingUpdateStore) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if s.fail {
		return errStoreDown
	}
	return s.Store.UpdateSubscription(ctx, sub)
}

func TestChangePricingLogsSaveFailureAfterPayment(t *testing.T) {
	var logs bytes.Buffer
	st := &failingUpdateStore{Store: memory.New()}
	f := newFixtureOn(t, st, tally.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	basic := f.monthly(t, 1000)
	pro := f.monthly(t, 3000)
	sub := f.subscribe(t, buyer, basic, 0)

	st.fail = true
	_, err := f.engine.ChangePricing(as(owner), sub.ID, pro.ID, true, 0)
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, int64(4000), f.treasury.paid(buyer))
	assert.Contains(t, logs.String(), "change pricing after payment")
	assert.Contains(t, logs.String(), sub.ID.String())
}

func TestChangePricingAuthorization(t *testing.T) {
	f := newFixture(t)
	basic := f.monthly(t, 1000)
	pro := f.monthly(t, 3000)
	oneTime := f.createPricing(t, &pricing.Pricing{Name: "setup", ChargeStyle: pricing.OneTime, FlatPrice: 100})
	seats := f.createPricing(t, &pricing.Pricing{
		Name:            "seats",
		ChargeStyle:     pricing.TieredVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
	})
	sub := f.subscribe(t, buyer, basic, 0)

	_, err := f.engine.ChangePricing(as(buyer), sub.ID, pro.ID, false, 0)
	assert.ErrorIs(t, err, tally.ErrPricingChangeNotAllowed)

	_, err = f.engine.ChangePricing(as(stranger), sub.ID, pro.ID, false, 0)
	assert.ErrorIs(t, err, tally.ErrNotOrgAdmin)

	require.NoError(t, f.engine.SetSubscriberChangeablePricing(as(owner), orgID, true))
	_, err = f.engine.ChangePricing(as(buyer), sub.ID, pro.ID, false, 0)
	require.NoError(t, err)

	_, err = f.engine.ChangePricing(as(buyer), sub.ID, oneTime.ID, false, 0)
	assert.ErrorIs(t, err, tally.ErrInvalidChargeStyle)

	_, err = f.engine.ChangePricing(as(buyer), sub.ID, seats.ID, true, 0)
	assert.ErrorIs(t, err, tally.ErrInvalidQuantity)
}

func TestChangePricingRecoversPastDue(t *testing.T) {
	f := newFixture(t)
	basic := f.monthly(t, 1000)
	pro := f.monthly(t, 2000)
	sub := f.subscribe(t, buyer, basic, 0)

	f.clock.Advance(month)
	f.treasury.decline(buyer, true)
	require.ErrorIs(t, f.engine.Renew(as(buyer), sub.ID), tally.ErrPaymentFailed)
	require.Equal(t, subscription.StatusPastDue, f.subscription(t, sub.ID).Status)

	f.treasury.decline(buyer, false)
	got, err := f.engine.ChangePricing(as(owner), sub.ID, pro.ID, true, 0)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
}

func TestListSubscriptionsByStatus(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)
	a := f.subscribe(t, "l1", p, 0)
	f.subscribe(t, "l2", p, 0)
	_, err := f.engine.CancelSubscription(as("l1"), a.ID)
	require.NoError(t, err)

	active, err := f.engine.ListSubscriptions(context.Background(), subscription.ListOpts{OrgID: orgID, Status: subscription.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "l2", active[0].Subscriber)
}
