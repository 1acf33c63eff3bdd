package tally

import (
	"context"
	"fmt"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// ──────────────────────────────────────────────────
// Discounts
// ──────────────────────────────────────────────────

// CreateDiscount validates d and stores it. Names are unique per
// organization.
func (e *Engine) CreateDiscount(ctx context.Context, d *discount.Discount) error {
	if err := e.requireOrg(ctx, d.OrgID); err != nil {
		return err
	}
	if err := e.requireAdmin(ctx, d.OrgID); err != nil {
		return err
	}
	if err := discount.Validate(d); err != nil {
		return err
	}

	if d.ID.IsNil() {
		d.ID = id.NewDiscountID()
	}
	d.TotalMints = 0
	d.Entity = types.NewEntity(e.now())

	if err := e.store.CreateDiscount(ctx, d); err != nil {
		return err
	}
	e.plugins.EmitDiscountCreated(ctx, d)
	return nil
}

// UpdateDiscount applies u to a discount.
func (e *Engine) UpdateDiscount(ctx context.Context, discountID id.DiscountID, u discount.Update) (*discount.Discount, error) {
	d, err := e.store.GetDiscount(ctx, discountID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAdmin(ctx, d.OrgID); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(orgKey(d.OrgID))
	defer unlock()

	if d, err = e.store.GetDiscount(ctx, discountID); err != nil {
		return nil, err
	}
	u.Apply(d)
	if err := discount.Validate(d); err != nil {
		return nil, err
	}
	d.Touch(e.now())
	if err := e.store.UpdateDiscount(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// SetDiscountAccess grants or revokes access to a restricted discount.
func (e *Engine) SetDiscountAccess(ctx context.Context, discountID id.DiscountID, subscribers []string, granted bool) error {
	d, err := e.store.GetDiscount(ctx, discountID)
	if err != nil {
		return err
	}
	if err := e.requireAdmin(ctx, d.OrgID); err != nil {
		return err
	}
	return e.setAccess(ctx, d.ID, subscribers, granted)
}

// GetDiscount returns a discount by ID.
func (e *Engine) GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	return e.store.GetDiscount(ctx, discountID)
}

// GetOrgDiscounts lists the discounts of an organization.
func (e *Engine) GetOrgDiscounts(ctx context.Context, orgID string) ([]*discount.Discount, error) {
	return e.store.ListDiscounts(ctx, orgID)
}

// IsMintable reports whether subscriber may mint the discount.
func (e *Engine) IsMintable(ctx context.Context, discountID id.DiscountID, subscriber string) error {
	d, err := e.store.GetDiscount(ctx, discountID)
	if err != nil {
		return err
	}
	return e.checkMintable(ctx, d, subscriber)
}

func (e *Engine) checkMintable(ctx context.Context, d *discount.Discount, subscriber string) error {
	hasAccess := true
	if d.IsRestricted {
		ok, err := e.store.HasAccess(ctx, d.ID, subscriber)
		if err != nil {
			return err
		}
		hasAccess = ok
	}
	return discount.CheckMintable(d, hasAccess)
}

// Mint issues one unit of a discount to subscriber outside a checkout.
// Only org admins may mint this way.
func (e *Engine) Mint(ctx context.Context, discountID id.DiscountID, subscriber string) (*discount.Discount, error) {
	d, err := e.store.GetDiscount(ctx, discountID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAdmin(ctx, d.OrgID); err != nil {
		return nil, err
	}
	if d, err = e.mint(ctx, d.OrgID, discountID, subscriber); err != nil {
		return nil, err
	}
	e.plugins.EmitDiscountMinted(ctx, d, subscriber)
	return d, nil
}

func (e *Engine) mint(ctx context.Context, orgID string, discountID id.DiscountID, subscriber string) (*discount.Discount, error) {
	d, err := e.store.GetDiscount(ctx, discountID)
	if err != nil {
		return nil, err
	}
	if d.OrgID != orgID {
		return nil, fmt.Errorf("%w: %s", ErrDiscountNotFound, discountID)
	}
	if err := e.checkMintable(ctx, d, subscriber); err != nil {
		return nil, err
	}
	if err := e.store.IncrementMints(ctx, d.ID); err != nil {
		return nil, err
	}
	d.TotalMints++
	return d, nil
}

func (e *Engine) revertMints(ctx context.Context, minted []*discount.Discount) {
	for _, d := range minted {
		if err := e.store.DecrementMints(ctx, d.ID); err != nil {
			e.logger.Error("decrement discount mints",
				"discount_id", d.ID.String(),
				"error", err,
			)
		}
	}
}

// DiscountedAmountFor returns amount after the given discounts, applied in
// order. Unknown discounts are skipped.
func (e *Engine) DiscountedAmountFor(ctx context.Context, discountIDs []id.DiscountID, amount int64) int64 {
	return discount.Apply(amount, e.loadDiscounts(ctx, discountIDs)...)
}

// loadDiscounts resolves ids, skipping those that no longer resolve.
func (e *Engine) loadDiscounts(ctx context.Context, ids []id.DiscountID) []*discount.Discount {
	out := make([]*discount.Discount, 0, len(ids))
	for _, did := range ids {
		d, err := e.store.GetDiscount(ctx, did)
		if err != nil {
			e.logger.Warn("discount unavailable",
				"discount_id", did.String(),
				"error", err,
			)
			continue
		}
		out = append(out, d)
	}
	return out
}
