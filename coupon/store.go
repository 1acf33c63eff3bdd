package coupon

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

// Store persists coupons, redemption counts and standing coupons.
type Store interface {
	CreateCoupon(ctx context.Context, c *Coupon) error
	GetCoupon(ctx context.Context, couponID id.CouponID) (*Coupon, error)
	GetCouponByCode(ctx context.Context, orgID, code string) (*Coupon, error)
	ListCoupons(ctx context.Context, orgID string, opts ListOpts) ([]*Coupon, error)
	UpdateCoupon(ctx context.Context, c *Coupon) error

	// IncrementRedemptions bumps TotalRedemptions by one unless the
	// coupon is exhausted, in which case it returns ErrExhausted.
	IncrementRedemptions(ctx context.Context, couponID id.CouponID) error
	// DecrementRedemptions undoes an IncrementRedemptions.
	DecrementRedemptions(ctx context.Context, couponID id.CouponID) error

	RecordRedemption(ctx context.Context, r *Redemption) error
	RevertRedemption(ctx context.Context, couponID id.CouponID, subscriber string) error
	GetRedemption(ctx context.Context, couponID id.CouponID, subscriber string) (*Redemption, error)
	ListRedemptions(ctx context.Context, orgID, subscriber string) ([]*Redemption, error)

	SetStandingCoupon(ctx context.Context, orgID, subscriber string, couponID id.CouponID, at time.Time) error
	// GetStandingCoupon returns id.Nil when none is set.
	GetStandingCoupon(ctx context.Context, orgID, subscriber string) (id.CouponID, error)
}

// ListOpts filters ListCoupons.
type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
