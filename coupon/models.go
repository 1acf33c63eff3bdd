// Package coupon defines per-cycle redeemable coupons and the
// eligibility rules checked before every redemption.
package coupon

import (
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// MaxCodeLength bounds Coupon.Code.
const MaxCodeLength = 32

// Coupon is a percentage discount an org offers under a short code.
type Coupon struct {
	types.Entity
	ID                    id.CouponID `json:"id"`
	OrgID                 string      `json:"org_id"`
	Code                  string      `json:"code"`
	DiscountBps           int64       `json:"discount_bps"`
	Expiration            time.Time   `json:"expiration,omitzero"`
	MaxTotalRedemptions   int64       `json:"max_total_redemptions"`
	TotalRedemptions      int64       `json:"total_redemptions"`
	IsInitialPurchaseOnly bool        `json:"is_initial_purchase_only"`
	IsActive              bool        `json:"is_active"`
	IsRestricted          bool        `json:"is_restricted"`
	IsOneTimeUse          bool        `json:"is_one_time_use"`
}

// Redemption counts how often a subscriber has redeemed a coupon.
type Redemption struct {
	CouponID   id.CouponID `json:"coupon_id"`
	OrgID      string      `json:"org_id"`
	Subscriber string      `json:"subscriber"`
	Count      int64       `json:"count"`
	LastAt     time.Time   `json:"last_at"`
}

// Update lists the mutable fields of a coupon. Nil fields are unchanged.
type Update struct {
	DiscountBps         *int64
	Expiration          *time.Time
	MaxTotalRedemptions *int64
	IsActive            *bool
	IsRestricted        *bool
}

// Apply copies the set fields of u onto c.
func (u Update) Apply(c *Coupon) {
	if u.DiscountBps != nil {
		c.DiscountBps = *u.DiscountBps
	}
	if u.Expiration != nil {
		c.Expiration = *u.Expiration
	}
	if u.MaxTotalRedemptions != nil {
		c.MaxTotalRedemptions = *u.MaxTotalRedemptions
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}
	if u.IsRestricted != nil {
		c.IsRestricted = *u.IsRestricted
	}
}
