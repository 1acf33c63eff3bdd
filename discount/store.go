package discount

import (
	"context"

	"github.com/xraph/tally/id"
)

// Store persists discounts and their mint counters.
type Store interface {
	CreateDiscount(ctx context.Context, d *Discount) error
	GetDiscount(ctx context.Context, discountID id.DiscountID) (*Discount, error)
	GetDiscountByName(ctx context.Context, orgID, name string) (*Discount, error)
	ListDiscounts(ctx context.Context, orgID string) ([]*Discount, error)
	UpdateDiscount(ctx context.Context, d *Discount) error

	// IncrementMints bumps TotalMints by one unless the discount is
	// exhausted, in which case it returns ErrExhausted.
	IncrementMints(ctx context.Context, discountID id.DiscountID) error
	// DecrementMints undoes an IncrementMints.
	DecrementMints(ctx context.Context, discountID id.DiscountID) error
}
