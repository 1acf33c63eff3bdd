package tally_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/pricing"
)

func TestWithdrawOrgBalance(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, buyer, f.monthly(t, 1000), 0)

	err := f.engine.WithdrawOrgBalance(as(buyer), orgID, "usd", 100, buyer)
	assert.ErrorIs(t, err, tally.ErrNotOrgAdmin)

	err = f.engine.WithdrawOrgBalance(as(owner), orgID, "usd", 5000, owner)
	assert.ErrorIs(t, err, tally.ErrInsufficientBalance)

	require.NoError(t, f.engine.WithdrawOrgBalance(as(admin), orgID, "USD", 400, "treasury-wallet"))
	assert.Equal(t, int64(600), f.orgBalance(t, "usd"))

	balances, err := f.engine.GetOrgBalances(context.Background(), orgID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, int64(600), balances[0].Amount)
}

func TestWithdrawOrgBalanceRestoresOnReleaseFailure(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, buyer, f.monthly(t, 1000), 0)

	f.treasury.decline("bad-wallet", true)
	err := f.engine.WithdrawOrgBalance(as(owner), orgID, "usd", 400, "bad-wallet")
	require.ErrorIs(t, err, errDeclined)
	assert.Equal(t, int64(1000), f.orgBalance(t, "usd"))
}

func TestWithdrawOrgBalanceValidation(t *testing.T) {
	f := newFixture(t)
	var ve tally.ValidationError

	err := f.engine.WithdrawOrgBalance(as(owner), orgID, "usd", 0, owner)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "amount", ve.Field)

	err = f.engine.WithdrawOrgBalance(as(owner), orgID, "usd", 10, "")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "recipient", ve.Field)
}

func TestWithdrawFee(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetFeeEnabled(as(feeAdmin), true))
	require.NoError(t, f.engine.SetFeeRate(as(feeAdmin), "usd", 1000))

	_, err := f.engine.WithdrawFee(as(feeAdmin), "usd", "platform")
	assert.ErrorIs(t, err, tally.ErrInsufficientBalance)

	f.subscribe(t, buyer, f.monthly(t, 1000), 0)

	_, err = f.engine.WithdrawFee(as(owner), "usd", "platform")
	assert.ErrorIs(t, err, tally.ErrMissingRole)

	f.treasury.decline("platform", true)
	_, err = f.engine.WithdrawFee(as(feeAdmin), "usd", "platform")
	require.ErrorIs(t, err, errDeclined)
	fee, err := f.engine.GetFeeBalance(context.Background(), "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(100), fee)
	// Restoring the fee leaves org balances untouched.
	unowned, err := f.engine.GetOrgBalances(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, unowned)
	assert.Equal(t, int64(900), f.orgBalance(t, "usd"))

	f.treasury.decline("platform", false)
	amount, err := f.engine.WithdrawFee(as(feeAdmin), "usd", "platform")
	require.NoError(t, err)
	assert.Equal(t, int64(100), amount)

	fee, err = f.engine.GetFeeBalance(context.Background(), "usd")
	require.NoError(t, err)
	assert.Zero(t, fee)
	assert.Equal(t, int64(900), f.orgBalance(t, "usd"))
}

func TestFeeAdministrationRequiresRole(t *testing.T) {
	f := newFixture(t)
	ctx := as(owner)

	assert.ErrorIs(t, f.engine.SetFeeRate(ctx, "usd", 100), tally.ErrMissingRole)
	assert.ErrorIs(t, f.engine.SetExoticFeeRate(ctx, 100), tally.ErrMissingRole)
	assert.ErrorIs(t, f.engine.SetFeeEnabled(ctx, true), tally.ErrMissingRole)
	assert.ErrorIs(t, f.engine.SetFeeExempt(ctx, orgID, true), tally.ErrMissingRole)
	assert.ErrorIs(t, f.engine.SetAssetWhitelisted(ctx, "eurc", true), tally.ErrMissingRole)
	assert.ErrorIs(t, f.engine.SetFeeReducer(ctx, nil), tally.ErrMissingRole)

	assert.ErrorIs(t, f.engine.SetFeeRate(as(feeAdmin), "usd", 10001), tally.ErrInvalidFeeRate)
}

func TestExoticAssetFee(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetFeeEnabled(as(feeAdmin), true))
	require.NoError(t, f.engine.SetExoticFeeRate(as(feeAdmin), 500))
	require.NoError(t, f.engine.SetAssetWhitelisted(as(feeAdmin), "EURC", true))

	fee, err := f.engine.Fee(context.Background(), orgID, "eurc", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), fee)

	fee, err = f.engine.Fee(context.Background(), orgID, "usd", 10000)
	require.NoError(t, err)
	assert.Zero(t, fee, "native asset has no exotic rate")

	require.NoError(t, f.engine.SetAssetWhitelisted(as(feeAdmin), "eurc", false))
	err = f.engine.CreatePricing(as(owner), &pricing.Pricing{OrgID: orgID, ChargeStyle: pricing.OneTime, Asset: "eurc", FlatPrice: 100})
	assert.ErrorIs(t, err, tally.ErrAssetNotWhitelisted)
}

func TestFeeReducer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetFeeEnabled(as(feeAdmin), true))
	require.NoError(t, f.engine.SetFeeRate(as(feeAdmin), "usd", 1000))

	bad := escrow.FeeReducerFunc(func(context.Context, string, int64, int64) (int64, error) {
		return 0, errors.New("oracle down")
	})
	err := f.engine.SetFeeReducer(as(feeAdmin), bad)
	assert.ErrorIs(t, err, tally.ErrInvalidFeeReducer)

	greedy := escrow.FeeReducerFunc(func(_ context.Context, _ string, _, fee int64) (int64, error) {
		return fee * 2, nil
	})
	assert.ErrorIs(t, f.engine.SetFeeReducer(as(feeAdmin), greedy), tally.ErrInvalidFeeReducer)

	half := escrow.FeeReducerFunc(func(_ context.Context, _ string, _, fee int64) (int64, error) {
		return fee / 2, nil
	})
	require.NoError(t, f.engine.SetFeeReducer(as(feeAdmin), half))

	f.subscribe(t, buyer, f.monthly(t, 1000), 0)
	fee, err := f.engine.GetFeeBalance(context.Background(), "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(50), fee)
	assert.Equal(t, int64(950), f.orgBalance(t, "usd"))
}

func TestFeeReducerRuntimeErrorChargesFullFee(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.SetFeeEnabled(as(feeAdmin), true))
	require.NoError(t, f.engine.SetFeeRate(as(feeAdmin), "usd", 1000))

	flaky := escrow.FeeReducerFunc(func(_ context.Context, orgID string, _, fee int64) (int64, error) {
		if orgID == "" {
			return fee, nil
		}
		return 0, errors.New("oracle down")
	})
	require.NoError(t, f.engine.SetFeeReducer(as(feeAdmin), flaky))

	f.subscribe(t, buyer, f.monthly(t, 1000), 0)
	assert.Equal(t, int64(900), f.orgBalance(t, "usd"))
}
