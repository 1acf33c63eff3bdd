package tally

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/plugin"
)

// ──────────────────────────────────────────────────
// Escrow
// ──────────────────────────────────────────────────

// credit splits amount into the platform fee and the org's net share.
// It is only reached from checkout, renewal and pricing changes, after
// payment has been collected.
func (e *Engine) credit(ctx context.Context, orgID, asset string, amount int64) (net, fee int64, err error) {
	if amount <= 0 {
		return 0, 0, nil
	}
	fee, ferr := e.fees.Fee(ctx, orgID, asset, amount)
	if ferr != nil {
		e.logger.Warn("fee reducer failed, charging full fee",
			"org_id", orgID,
			"asset", asset,
			"fee", fee,
			"error", ferr,
		)
	}
	net = amount - fee

	if err := e.store.CreditBalance(ctx, orgID, asset, net, fee, e.now()); err != nil {
		return 0, 0, err
	}
	e.plugins.EmitBalanceCredited(ctx, orgID, asset, net, fee)
	return net, fee, nil
}

// WithdrawOrgBalance pays amount of an org's escrowed asset to recipient.
// The caller must own or administer the org.
func (e *Engine) WithdrawOrgBalance(ctx context.Context, orgID, asset string, amount int64, recipient string) error {
	if amount <= 0 {
		return ValidationError{Field: "amount", Message: "must be positive", Err: ErrInvalidInput}
	}
	if recipient == "" {
		return ValidationError{Field: "recipient", Message: "required", Err: ErrInvalidInput}
	}
	if err := e.requireAdmin(ctx, orgID); err != nil {
		return err
	}
	asset = strings.ToLower(asset)

	unlock := e.locks.Lock(orgKey(orgID))
	defer unlock()

	if err := e.store.DebitOrgBalance(ctx, orgID, asset, amount, e.now()); err != nil {
		return err
	}
	if err := e.treasury.Release(ctx, asset, recipient, amount); err != nil {
		if cerr := e.store.CreditBalance(ctx, orgID, asset, amount, 0, e.now()); cerr != nil {
			e.logger.Error("restore org balance after failed release",
				"org_id", orgID,
				"asset", asset,
				"amount", amount,
				"error", cerr,
			)
		}
		return fmt.Errorf("tally: release %d %s: %w", amount, asset, err)
	}

	e.logger.Info("org balance withdrawn",
		"org_id", orgID,
		"asset", asset,
		"amount", amount,
	)
	e.plugins.EmitBalanceWithdrawn(ctx, orgID, asset, amount, recipient)
	return nil
}

// WithdrawFee pays the whole accumulated fee balance of asset to
// recipient and returns the amount. Requires RoleFeeWithdrawer.
func (e *Engine) WithdrawFee(ctx context.Context, asset, recipient string) (int64, error) {
	if err := e.requireRole(ctx, RoleFeeWithdrawer); err != nil {
		return 0, err
	}
	if recipient == "" {
		return 0, ValidationError{Field: "recipient", Message: "required", Err: ErrInvalidInput}
	}
	asset = strings.ToLower(asset)

	unlock := e.locks.Lock("fee:" + asset)
	defer unlock()

	amount, err := e.store.GetFeeBalance(ctx, asset)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, ErrInsufficientBalance
	}
	if err := e.store.DebitFeeBalance(ctx, asset, amount, e.now()); err != nil {
		return 0, err
	}
	if err := e.treasury.Release(ctx, asset, recipient, amount); err != nil {
		if cerr := e.store.CreditFeeBalance(ctx, asset, amount, e.now()); cerr != nil {
			e.logger.Error("restore fee balance after failed release",
				"asset", asset,
				"amount", amount,
				"error", cerr,
			)
		}
		return 0, fmt.Errorf("tally: release fee %d %s: %w", amount, asset, err)
	}

	e.plugins.EmitFeeWithdrawn(ctx, asset, amount, recipient)
	return amount, nil
}

// GetOrgBalance returns the escrowed balance of an org in asset.
func (e *Engine) GetOrgBalance(ctx context.Context, orgID, asset string) (int64, error) {
	return e.store.GetOrgBalance(ctx, orgID, strings.ToLower(asset))
}

// GetOrgBalances lists every escrowed balance of an org.
func (e *Engine) GetOrgBalances(ctx context.Context, orgID string) ([]*escrow.Balance, error) {
	return e.store.ListOrgBalances(ctx, orgID)
}

// GetFeeBalance returns the accumulated platform fee in asset.
func (e *Engine) GetFeeBalance(ctx context.Context, asset string) (int64, error) {
	return e.store.GetFeeBalance(ctx, strings.ToLower(asset))
}

// Fee returns the fee the schedule would charge orgID on amount of asset.
func (e *Engine) Fee(ctx context.Context, orgID, asset string, amount int64) (int64, error) {
	return e.fees.Fee(ctx, orgID, asset, amount)
}

// ──────────────────────────────────────────────────
// Fee schedule administration (RoleFeeManager)
// ──────────────────────────────────────────────────

// SetFeeRate sets the explicit rate for asset. 0 clears it.
func (e *Engine) SetFeeRate(ctx context.Context, asset string, bps int64) error {
	if err := e.requireRole(ctx, RoleFeeManager); err != nil {
		return err
	}
	if err := e.fees.SetRate(asset, bps); err != nil {
		return err
	}
	e.plugins.EmitFeeSet(ctx, plugin.FeeChange{Setting: "rate", Asset: strings.ToLower(asset), Bps: bps})
	return nil
}

// SetExoticFeeRate sets the rate for non-native assets without an
// explicit rate.
func (e *Engine) SetExoticFeeRate(ctx context.Context, bps int64) error {
	if err := e.requireRole(ctx, RoleFeeManager); err != nil {
		return err
	}
	if err := e.fees.SetExoticRate(bps); err != nil {
		return err
	}
	e.plugins.EmitFeeSet(ctx, plugin.FeeChange{Setting: "exotic_rate", Bps: bps})
	return nil
}

// SetFeeEnabled turns fee collection on or off.
func (e *Engine) SetFeeEnabled(ctx context.Context, enabled bool) error {
	if err := e.requireRole(ctx, RoleFeeManager); err != nil {
		return err
	}
	e.fees.SetEnabled(enabled)
	e.plugins.EmitFeeSet(ctx, plugin.FeeChange{Setting: "enabled", Flag: enabled})
	return nil
}

// SetFeeExempt exempts an org from fees or lifts the exemption.
func (e *Engine) SetFeeExempt(ctx context.Context, orgID string, exempt bool) error {
	if err := e.requireRole(ctx, RoleFeeManager); err != nil {
		return err
	}
	e.fees.SetExempt(orgID, exempt)
	e.plugins.EmitFeeSet(ctx, plugin.FeeChange{Setting: "exempt", OrgID: orgID, Flag: exempt})
	return nil
}

// SetAssetWhitelisted controls whether a non-native asset may be priced.
func (e *Engine) SetAssetWhitelisted(ctx context.Context, asset string, whitelisted bool) error {
	if err := e.requireRole(ctx, RoleFeeManager); err != nil {
		return err
	}
	asset = strings.ToLower(asset)
	e.fees.SetWhitelisted(asset, whitelisted)
	e.plugins.EmitWhitelistedTokenSet(ctx, asset, whitelisted)
	return nil
}

// SetFeeReducer installs r after probing it. nil removes the reducer.
func (e *Engine) SetFeeReducer(ctx context.Context, r escrow.FeeReducer) error {
	if err := e.requireRole(ctx, RoleFeeManager); err != nil {
		return err
	}
	if err := e.fees.SetReducer(ctx, r); err != nil {
		return err
	}
	e.plugins.EmitFeeSet(ctx, plugin.FeeChange{Setting: "reducer", Flag: r != nil})
	return nil
}
