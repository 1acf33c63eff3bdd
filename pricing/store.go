package pricing

import (
	"context"

	"github.com/xraph/tally/id"
)

// Store persists pricing configurations.
type Store interface {
	CreatePricing(ctx context.Context, p *Pricing) error
	GetPricing(ctx context.Context, pricingID id.PricingID) (*Pricing, error)
	// GetPricingBatch returns pricings in the order of ids. Missing ids
	// fail the whole call with ErrNotFound.
	GetPricingBatch(ctx context.Context, ids []id.PricingID) ([]*Pricing, error)
	ListPricing(ctx context.Context, orgID string, opts ListOpts) ([]*Pricing, error)
	UpdatePricing(ctx context.Context, p *Pricing) error
}

// ListOpts filters ListPricing.
type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
