package tally_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/subscription"
)

const (
	orgID    = "acme"
	otherOrg = "globex"
	owner    = "alice"
	admin    = "bob"
	buyer    = "carol"
	stranger = "mallory"
	feeAdmin = "felix"
	renewer  = "rita"
)

var errDeclined = errors.New("card declined")

// fakeTreasury records transfers and declines payers listed in declined.
type fakeTreasury struct {
	mu       sync.Mutex
	declined map[string]bool
	received map[string]int64
	released map[string]int64
}

func newFakeTreasury() *fakeTreasury {
	return &fakeTreasury{
		declined: make(map[string]bool),
		received: make(map[string]int64),
		released: make(map[string]int64),
	}
}

func (t *fakeTreasury) Receive(_ context.Context, payer, _ string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.declined[payer] {
		return errDeclined
	}
	t.received[payer] += amount
	return nil
}

func (t *fakeTreasury) Release(_ context.Context, _, recipient string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.declined[recipient] {
		return errDeclined
	}
	t.released[recipient] += amount
	return nil
}

func (t *fakeTreasury) decline(payer string, declined bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.declined[payer] = declined
}

func (t *fakeTreasury) paid(payer string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received[payer]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine   *tally.Engine
	store    store.Store
	treasury *fakeTreasury
	clock    *fakeClock
	fees     *escrow.Schedule
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...tally.Option) *fixture {
	t.Helper()
	return newFixtureOn(t, memory.New(), opts...)
}

// newFixtureOn builds the fixture engine on s.
func newFixtureOn(t *testing.T, s store.Store, opts ...tally.Option) *fixture {
	t.Helper()

	auth := tally.NewStaticAuthorizer().
		AddOrganization(orgID, owner, admin).
		AddOrganization(otherOrg, stranger).
		Grant(tally.RoleFeeManager, feeAdmin).
		Grant(tally.RoleFeeWithdrawer, feeAdmin).
		Grant(tally.RoleRenewer, renewer)

	fees, err := escrow.NewSchedule(escrow.Config{
		NativeAsset: "usd",
		Whitelist:   map[string]bool{"usdc": true},
	})
	require.NoError(t, err)

	f := &fixture{
		store:    s,
		treasury: newFakeTreasury(),
		clock:    &fakeClock{now: epoch},
		fees:     fees,
	}
	base := []tally.Option{
		tally.WithAuthorizer(auth),
		tally.WithTreasury(f.treasury),
		tally.WithClock(f.clock.Now),
		tally.WithFeeSchedule(fees),
	}
	f.engine = tally.New(f.store, append(base, opts...)...)
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(func() { _ = f.engine.Stop(context.Background()) })
	return f
}

func as(account string) context.Context {
	return tally.WithCaller(context.Background(), account)
}

func (f *fixture) createPricing(t *testing.T, p *pricing.Pricing) *pricing.Pricing {
	t.Helper()
	if p.OrgID == "" {
		p.OrgID = orgID
	}
	if p.Asset == "" {
		p.Asset = "usd"
	}
	p.IsActive = true
	require.NoError(t, f.engine.CreatePricing(as(owner), p))
	return p
}

func (f *fixture) monthly(t *testing.T, price int64) *pricing.Pricing {
	t.Helper()
	return f.createPricing(t, &pricing.Pricing{
		Name:            "monthly",
		ChargeStyle:     pricing.FlatRate,
		ChargeFrequency: pricing.FrequencyMonthly,
		FlatPrice:       price,
	})
}

func (f *fixture) usageMeter(t *testing.T) *meter.Meter {
	t.Helper()
	m := &meter.Meter{OrgID: orgID, Name: "api calls", AggregationMethod: meter.Sum, IsActive: true}
	require.NoError(t, f.engine.CreateMeter(as(owner), m))
	return m
}

func volumeTiers() []pricing.Tier {
	return []pricing.Tier{
		{LowerBound: 1, UpperBound: 100, PricePerUnit: 100, PriceFlatRate: 10},
		{LowerBound: 101, UpperBound: 0, PricePerUnit: 200, PriceFlatRate: 20},
	}
}

// subscribe checks out a single line for account and returns the
// subscription it opened.
func (f *fixture) subscribe(t *testing.T, account string, p *pricing.Pricing, qty int64) *subscription.Subscription {
	t.Helper()
	res, err := f.engine.Checkout(as(account), tally.CheckoutRequest{
		OrgID: p.OrgID,
		Lines: []tally.CheckoutLine{{PricingID: p.ID, ProductID: "product", Quantity: qty}},
	})
	require.NoError(t, err)
	require.Len(t, res.Subscriptions, 1)
	return res.Subscriptions[0]
}

func (f *fixture) subscription(t *testing.T, subID id.SubscriptionID) *subscription.Subscription {
	t.Helper()
	sub, err := f.engine.GetSubscription(context.Background(), subID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) orgBalance(t *testing.T, asset string) int64 {
	t.Helper()
	b, err := f.engine.GetOrgBalance(context.Background(), orgID, asset)
	require.NoError(t, err)
	return b
}
