package audithook_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audithook "github.com/xraph/tally/audit_hook"
	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/subscription"
)

func capture() (*[]*audithook.AuditEvent, audithook.RecorderFunc) {
	var events []*audithook.AuditEvent
	return &events, func(_ context.Context, evt *audithook.AuditEvent) error {
		events = append(events, evt)
		return nil
	}
}

func TestCouponRedeemedEvent(t *testing.T) {
	events, rec := capture()
	ext := audithook.New(rec)

	c := &coupon.Coupon{ID: id.NewCouponID(), OrgID: "org-1", Code: "SAVE10", TotalRedemptions: 3}
	require.NoError(t, ext.OnCouponRedeemed(context.Background(), c, "alice"))

	require.Len(t, *events, 1)
	evt := (*events)[0]
	assert.Equal(t, audithook.ActionCouponRedeemed, evt.Action)
	assert.Equal(t, audithook.ResourceCoupon, evt.Resource)
	assert.Equal(t, c.ID.String(), evt.ResourceID)
	assert.Equal(t, "alice", evt.Metadata["subscriber"])
	assert.Equal(t, int64(3), evt.Metadata["total_redemptions"])
	assert.Equal(t, audithook.OutcomeSuccess, evt.Outcome)
}

func TestRenewalOutcomes(t *testing.T) {
	events, rec := capture()
	ext := audithook.New(rec)
	ctx := context.Background()
	subID := id.NewSubscriptionID()

	require.NoError(t, ext.OnRenewalProcessed(ctx, subID, "success", nil))
	require.NoError(t, ext.OnRenewalProcessed(ctx, subID, "failed", errors.New("declined")))
	require.NoError(t, ext.OnRenewalProcessed(ctx, subID, "not_ready", nil))

	require.Len(t, *events, 3)
	assert.Equal(t, audithook.OutcomeSuccess, (*events)[0].Outcome)

	failed := (*events)[1]
	assert.Equal(t, audithook.OutcomeFailure, failed.Outcome)
	assert.Equal(t, audithook.SeverityError, failed.Severity)
	assert.Equal(t, "declined", failed.Reason)

	assert.Equal(t, audithook.OutcomeSkipped, (*events)[2].Outcome)
}

func TestStatusChangeToPastDueWarns(t *testing.T) {
	events, rec := capture()
	ext := audithook.New(rec)

	sub := &subscription.Subscription{ID: id.NewSubscriptionID(), OrgID: "org-1", Status: subscription.StatusPastDue}
	require.NoError(t, ext.OnSubscriptionStatusChanged(context.Background(), sub, subscription.StatusActive))

	require.Len(t, *events, 1)
	assert.Equal(t, audithook.SeverityWarning, (*events)[0].Severity)
	assert.Equal(t, "active", (*events)[0].Metadata["from"])
	assert.Equal(t, "past_due", (*events)[0].Metadata["to"])
}

func TestCheckoutCompletedListsSubscriptions(t *testing.T) {
	events, rec := capture()
	ext := audithook.New(rec)

	inv := &invoice.Invoice{ID: id.NewInvoiceID(), OrgID: "org-1", Subscriber: "bob", Asset: "ETH", Total: 900, Fee: 9}
	subs := []*subscription.Subscription{{ID: id.NewSubscriptionID()}, {ID: id.NewSubscriptionID()}}
	require.NoError(t, ext.OnCheckoutCompleted(context.Background(), inv, subs))

	require.Len(t, *events, 1)
	evt := (*events)[0]
	assert.Equal(t, inv.ID.String(), evt.ResourceID)
	assert.Equal(t, []string{subs[0].ID.String(), subs[1].ID.String()}, evt.Metadata["subscription_ids"])
	assert.Equal(t, int64(900), evt.Metadata["total"])
}

func TestFeeSetUsesOrgWhenPresent(t *testing.T) {
	events, rec := capture()
	ext := audithook.New(rec)

	require.NoError(t, ext.OnFeeSet(context.Background(), plugin.FeeChange{Setting: "exempt", OrgID: "org-9", Flag: true}))
	require.NoError(t, ext.OnFeeSet(context.Background(), plugin.FeeChange{Setting: "rate", Asset: "USDC", Bps: 50}))

	require.Len(t, *events, 2)
	assert.Equal(t, "org-9", (*events)[0].ResourceID)
	assert.Equal(t, "USDC", (*events)[1].ResourceID)
}

func TestEnabledActionsFilter(t *testing.T) {
	events, rec := capture()
	ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionFeeWithdrawn))
	ctx := context.Background()

	require.NoError(t, ext.OnBalanceCredited(ctx, "org-1", "ETH", 99, 1))
	require.NoError(t, ext.OnFeeWithdrawn(ctx, "ETH", 1, "treasury"))

	require.Len(t, *events, 1)
	assert.Equal(t, audithook.ActionFeeWithdrawn, (*events)[0].Action)
}

func TestDisabledActionsFilter(t *testing.T) {
	events, rec := capture()
	ext := audithook.New(rec, audithook.WithDisabledActions(audithook.ActionMeterUsageSet))
	ctx := context.Background()

	require.NoError(t, ext.OnMeterUsageSet(ctx, id.NewMeterID(), "alice", 5))
	require.NoError(t, ext.OnWhitelistedTokenSet(ctx, "USDC", true))

	require.Len(t, *events, 1)
	assert.Equal(t, audithook.ActionAssetWhitelisted, (*events)[0].Action)
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))
	assert.NoError(t, ext.OnBalanceWithdrawn(context.Background(), "org-1", "ETH", 10, "0xabc"))
}
