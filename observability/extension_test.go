package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/subscription"
)

func newTestExtension(t *testing.T) (*MetricsExtension, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetricsExtension(NewPrometheusFactory(reg)), reg
}

func TestRenewalOutcomeCounters(t *testing.T) {
	m, _ := newTestExtension(t)
	ctx := context.Background()
	subID := id.NewSubscriptionID()

	require.NoError(t, m.OnRenewalProcessed(ctx, subID, "success", nil))
	require.NoError(t, m.OnRenewalProcessed(ctx, subID, "success", nil))
	require.NoError(t, m.OnRenewalProcessed(ctx, subID, "failed", errors.New("declined")))
	require.NoError(t, m.OnRenewalProcessed(ctx, subID, "paused", nil))

	assert.InDelta(t, 2, testutil.ToFloat64(m.RenewalSuccess.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RenewalFailure.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RenewalSkipped.(prometheus.Counter)), 0)
}

func TestStatusCounters(t *testing.T) {
	m, _ := newTestExtension(t)
	ctx := context.Background()

	sub := &subscription.Subscription{Status: subscription.StatusPastDue}
	require.NoError(t, m.OnSubscriptionStatusChanged(ctx, sub, subscription.StatusActive))
	sub.Status = subscription.StatusActive
	require.NoError(t, m.OnSubscriptionStatusChanged(ctx, sub, subscription.StatusPastDue))

	assert.InDelta(t, 1, testutil.ToFloat64(m.SubscriptionPastDue.(prometheus.Counter)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.SubscriptionCancelled.(prometheus.Counter)), 0)
}

func TestEscrowAmounts(t *testing.T) {
	m, _ := newTestExtension(t)
	ctx := context.Background()

	require.NoError(t, m.OnBalanceCredited(ctx, "org-1", "usd", 990, 10))
	require.NoError(t, m.OnBalanceCredited(ctx, "org-1", "usd", 495, 5))
	require.NoError(t, m.OnFeeWithdrawn(ctx, "usd", 15, "treasury"))

	assert.InDelta(t, 1485, testutil.ToFloat64(m.BalanceCredited.(prometheus.Counter)), 0)
	assert.InDelta(t, 15, testutil.ToFloat64(m.FeesCollected.(prometheus.Counter)), 0)
	assert.InDelta(t, 15, testutil.ToFloat64(m.FeeWithdrawn.(prometheus.Counter)), 0)
}

func TestCheckoutRegistersFlattenedNames(t *testing.T) {
	m, reg := newTestExtension(t)

	inv := &invoice.Invoice{Total: 1200}
	require.NoError(t, m.OnCheckoutCompleted(context.Background(), inv, nil))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["tally_checkout_completed_total"])
	assert.True(t, names["tally_checkout_total_amount"])
}

func TestFactoryReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewPrometheusFactory(reg).Counter("tally.coupon.redeemed")
	second := NewPrometheusFactory(reg).Counter("tally.coupon.redeemed")

	first.Inc()
	second.Inc()

	assert.InDelta(t, 2, testutil.ToFloat64(first.(prometheus.Counter)), 0)
}
