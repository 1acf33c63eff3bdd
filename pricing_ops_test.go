package tally_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/pricing"
)

func TestCreatePricing(t *testing.T) {
	f := newFixture(t)

	p := &pricing.Pricing{
		OrgID:           orgID,
		Name:            "Pro",
		ChargeStyle:     pricing.FlatRate,
		ChargeFrequency: pricing.FrequencyMonthly,
		Asset:           "USD",
		FlatPrice:       2900,
		IsActive:        true,
	}
	require.NoError(t, f.engine.CreatePricing(as(admin), p))
	assert.False(t, p.ID.IsNil())
	assert.Equal(t, "usd", p.Asset)

	got, err := f.engine.GetPricing(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.FlatPrice, got.FlatPrice)

	cost, err := f.engine.Cost(context.Background(), p.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, tally.NewMoney(2900, "usd"), cost)
}

func TestCreatePricingRejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		caller  string
		pricing pricing.Pricing
		wantErr error
	}{
		{
			name:    "not an admin",
			caller:  buyer,
			pricing: pricing.Pricing{OrgID: orgID, ChargeStyle: pricing.OneTime, Asset: "usd"},
			wantErr: tally.ErrNotOrgAdmin,
		},
		{
			name:    "unknown org",
			caller:  owner,
			pricing: pricing.Pricing{OrgID: "initech", ChargeStyle: pricing.OneTime, Asset: "usd"},
			wantErr: tally.ErrOrganizationNotFound,
		},
		{
			name:    "asset not whitelisted",
			caller:  owner,
			pricing: pricing.Pricing{OrgID: orgID, ChargeStyle: pricing.OneTime, Asset: "doge"},
			wantErr: tally.ErrAssetNotWhitelisted,
		},
		{
			name:    "missing asset",
			caller:  owner,
			pricing: pricing.Pricing{OrgID: orgID, ChargeStyle: pricing.OneTime},
			wantErr: tally.ErrAssetRequired,
		},
		{
			name:    "recurring without frequency",
			caller:  owner,
			pricing: pricing.Pricing{OrgID: orgID, ChargeStyle: pricing.FlatRate, Asset: "usd"},
			wantErr: tally.ErrInvalidFrequency,
		},
		{
			name:    "tiered without tiers",
			caller:  owner,
			pricing: pricing.Pricing{OrgID: orgID, ChargeStyle: pricing.TieredVolume, ChargeFrequency: pricing.FrequencyMonthly, Asset: "usd"},
			wantErr: tally.ErrNoTiersFound,
		},
		{
			name:    "usage without meter",
			caller:  owner,
			pricing: pricing.Pricing{OrgID: orgID, ChargeStyle: pricing.UsageVolume, ChargeFrequency: pricing.FrequencyMonthly, Asset: "usd", Tiers: volumeTiers()},
			wantErr: tally.ErrMeterRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.pricing
			err := f.engine.CreatePricing(as(tt.caller), &p)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreatePricingMeterMustBelongToOrg(t *testing.T) {
	f := newFixture(t)
	m := f.usageMeter(t)

	p := &pricing.Pricing{
		OrgID:           otherOrg,
		Name:            "borrowed meter",
		ChargeStyle:     pricing.UsageVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Asset:           "usd",
		Tiers:           volumeTiers(),
		UsageMeterID:    m.ID,
	}
	err := f.engine.CreatePricing(as(stranger), p)
	assert.ErrorIs(t, err, tally.ErrMeterNotFound)
}

func TestSetTiers(t *testing.T) {
	f := newFixture(t)
	p := f.createPricing(t, &pricing.Pricing{
		Name:            "seats",
		ChargeStyle:     pricing.TieredVolume,
		ChargeFrequency: pricing.FrequencyMonthly,
		Tiers:           volumeTiers(),
	})

	_, err := f.engine.SetTiers(as(owner), p.ID, []pricing.Tier{
		{LowerBound: 1, UpperBound: 10, PricePerUnit: 5},
		{LowerBound: 12, UpperBound: 0, PricePerUnit: 4},
	})
	require.ErrorIs(t, err, tally.ErrTiersNotContiguous)

	_, err = f.engine.SetTiers(as(buyer), p.ID, volumeTiers())
	require.ErrorIs(t, err, tally.ErrNotOrgAdmin)

	got, err := f.engine.SetTiers(as(owner), p.ID, []pricing.Tier{
		{LowerBound: 1, UpperBound: 10, PricePerUnit: 5},
		{LowerBound: 11, UpperBound: 0, PricePerUnit: 4},
	})
	require.NoError(t, err)
	require.Len(t, got.Tiers, 2)

	cost, err := f.engine.Cost(context.Background(), p.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(80), cost.Amount)

	flat := f.monthly(t, 100)
	_, err = f.engine.SetTiers(as(owner), flat.ID, volumeTiers())
	assert.ErrorIs(t, err, tally.ErrInvalidChargeStyle)
}

func TestUpdatePricing(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 1000)

	price := int64(1500)
	name := "monthly plus"
	got, err := f.engine.UpdatePricing(as(admin), p.ID, pricing.Update{FlatPrice: &price, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.FlatPrice)
	assert.Equal(t, "monthly plus", got.Name)

	negative := int64(-1)
	_, err = f.engine.UpdatePricing(as(admin), p.ID, pricing.Update{FlatPrice: &negative})
	assert.ErrorIs(t, err, tally.ErrInvalidPrice)

	stored, err := f.engine.GetPricing(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), stored.FlatPrice)
}

func TestGetOrgPricing(t *testing.T) {
	f := newFixture(t)
	f.monthly(t, 100)
	inactive := f.monthly(t, 200)
	off := false
	_, err := f.engine.UpdatePricing(as(owner), inactive.ID, pricing.Update{IsActive: &off})
	require.NoError(t, err)

	all, err := f.engine.GetOrgPricing(context.Background(), orgID, pricing.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := f.engine.GetOrgPricing(context.Background(), orgID, pricing.ListOpts{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSetPricingAccessNeedsSubscribers(t *testing.T) {
	f := newFixture(t)
	p := f.monthly(t, 100)
	err := f.engine.SetPricingAccess(as(owner), p.ID, nil, true)
	assert.ErrorIs(t, err, tally.ErrInvalidInput)
}
