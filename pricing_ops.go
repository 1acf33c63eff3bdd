package tally

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/types"
)

// ──────────────────────────────────────────────────
// Pricing catalog
// ──────────────────────────────────────────────────

// CreatePricing validates p, assigns its ID and stores it. The caller
// must administer p.OrgID.
func (e *Engine) CreatePricing(ctx context.Context, p *pricing.Pricing) error {
	if err := e.requireOrg(ctx, p.OrgID); err != nil {
		return err
	}
	if err := e.requireAdmin(ctx, p.OrgID); err != nil {
		return err
	}

	p.Asset = strings.ToLower(p.Asset)
	if err := pricing.Validate(p); err != nil {
		return err
	}
	if err := e.checkPricingRefs(ctx, p); err != nil {
		return err
	}

	if p.ID.IsNil() {
		p.ID = id.NewPricingID()
	}
	p.Entity = types.NewEntity(e.now())

	if err := e.store.CreatePricing(ctx, p); err != nil {
		return err
	}

	e.logger.Debug("pricing created",
		"pricing_id", p.ID.String(),
		"org_id", p.OrgID,
		"charge_style", p.ChargeStyle,
	)
	e.plugins.EmitPricingCreated(ctx, p)
	return nil
}

// checkPricingRefs verifies the asset is accepted and any usage meter
// belongs to the same organization.
func (e *Engine) checkPricingRefs(ctx context.Context, p *pricing.Pricing) error {
	if !e.fees.IsWhitelisted(p.Asset) {
		return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, p.Asset)
	}
	if p.UsageMeterID.IsNil() {
		return nil
	}
	m, err := e.store.GetMeter(ctx, p.UsageMeterID)
	if err != nil {
		return err
	}
	if m.OrgID != p.OrgID {
		return fmt.Errorf("%w: meter %s", ErrMeterNotFound, p.UsageMeterID)
	}
	return nil
}

// SetTiers replaces the tier table of a tiered pricing.
func (e *Engine) SetTiers(ctx context.Context, pricingID id.PricingID, tiers []pricing.Tier) (*pricing.Pricing, error) {
	return e.mutatePricing(ctx, pricingID, func(p *pricing.Pricing) error {
		if err := pricing.ValidateTiers(p.ChargeStyle, tiers); err != nil {
			return err
		}
		p.Tiers = append([]pricing.Tier(nil), tiers...)
		return nil
	})
}

// UpdatePricing applies the set fields of u and re-validates the result.
func (e *Engine) UpdatePricing(ctx context.Context, pricingID id.PricingID, u pricing.Update) (*pricing.Pricing, error) {
	return e.mutatePricing(ctx, pricingID, func(p *pricing.Pricing) error {
		u.Apply(p)
		if err := pricing.Validate(p); err != nil {
			return err
		}
		if u.UsageMeterID != nil {
			return e.checkPricingRefs(ctx, p)
		}
		return nil
	})
}

func (e *Engine) mutatePricing(ctx context.Context, pricingID id.PricingID, fn func(*pricing.Pricing) error) (*pricing.Pricing, error) {
	p, err := e.store.GetPricing(ctx, pricingID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAdmin(ctx, p.OrgID); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(orgKey(p.OrgID))
	defer unlock()

	// Re-read under the lock so concurrent edits compose.
	if p, err = e.store.GetPricing(ctx, pricingID); err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	p.Touch(e.now())

	if err := e.store.UpdatePricing(ctx, p); err != nil {
		return nil, err
	}
	e.plugins.EmitPricingUpdated(ctx, p)
	return p, nil
}

// SetPricingAccess grants or revokes access to a restricted pricing.
func (e *Engine) SetPricingAccess(ctx context.Context, pricingID id.PricingID, subscribers []string, granted bool) error {
	p, err := e.store.GetPricing(ctx, pricingID)
	if err != nil {
		return err
	}
	if err := e.requireAdmin(ctx, p.OrgID); err != nil {
		return err
	}
	if err := e.setAccess(ctx, p.ID, subscribers, granted); err != nil {
		return err
	}
	e.plugins.EmitPricingUpdated(ctx, p)
	return nil
}

func (e *Engine) setAccess(ctx context.Context, resource id.ID, subscribers []string, granted bool) error {
	if len(subscribers) == 0 {
		return fmt.Errorf("%w: no subscribers", ErrInvalidInput)
	}
	if granted {
		return e.store.GrantAccess(ctx, resource, subscribers, e.now())
	}
	return e.store.RevokeAccess(ctx, resource, subscribers)
}

// GetPricing returns a pricing by ID.
func (e *Engine) GetPricing(ctx context.Context, pricingID id.PricingID) (*pricing.Pricing, error) {
	return e.store.GetPricing(ctx, pricingID)
}

// GetPricingBatch returns pricings in the order of ids.
func (e *Engine) GetPricingBatch(ctx context.Context, ids []id.PricingID) ([]*pricing.Pricing, error) {
	return e.store.GetPricingBatch(ctx, ids)
}

// GetOrgPricing lists the pricings of an organization.
func (e *Engine) GetOrgPricing(ctx context.Context, orgID string, opts pricing.ListOpts) ([]*pricing.Pricing, error) {
	return e.store.ListPricing(ctx, orgID, opts)
}

// Cost prices qty units of a stored pricing.
func (e *Engine) Cost(ctx context.Context, pricingID id.PricingID, qty int64) (types.Money, error) {
	p, err := e.store.GetPricing(ctx, pricingID)
	if err != nil {
		return types.Money{}, err
	}
	return pricing.Cost(p, qty)
}

// CheckoutQuote is the validated shape of a prospective checkout.
type CheckoutQuote struct {
	Asset    string
	Pricings []*pricing.Pricing
	// Cycles holds each line's cycle length, 0 for one-time lines.
	Cycles []time.Duration
}

// ValidateCheckout checks that every pricing belongs to orgID, is active,
// is accessible to subscriber and shares one asset.
func (e *Engine) ValidateCheckout(ctx context.Context, orgID, subscriber string, pricingIDs []id.PricingID, quantities []int64) (*CheckoutQuote, error) {
	if len(pricingIDs) == 0 || len(pricingIDs) != len(quantities) {
		return nil, fmt.Errorf("%w: %d pricings, %d quantities", ErrInvalidInput, len(pricingIDs), len(quantities))
	}

	pricings, err := e.store.GetPricingBatch(ctx, pricingIDs)
	if err != nil {
		return nil, err
	}

	quote := &CheckoutQuote{
		Pricings: pricings,
		Cycles:   make([]time.Duration, len(pricings)),
	}
	for i, p := range pricings {
		if p.OrgID != orgID {
			return nil, fmt.Errorf("%w: %s", ErrPricingNotAuthorized, p.ID)
		}
		if !p.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrPricingInactive, p.ID)
		}
		if p.IsRestricted {
			ok, err := e.store.HasAccess(ctx, p.ID, subscriber)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrPricingRestrictedAccess, p.ID)
			}
		}
		if i == 0 {
			quote.Asset = p.Asset
		} else if p.Asset != quote.Asset {
			return nil, fmt.Errorf("%w: %s and %s", ErrPricingTokensMismatch, quote.Asset, p.Asset)
		}
		quote.Cycles[i] = p.Cycle()
	}
	return quote, nil
}
