package coupon

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tally/types"
)

var (
	ErrNotFound            = errors.New("tally: coupon not found")
	ErrInactive            = errors.New("tally: coupon inactive")
	ErrExpired             = errors.New("tally: coupon expired")
	ErrInitialPurchaseOnly = errors.New("tally: coupon valid for initial purchase only")
	ErrRestricted          = errors.New("tally: coupon restricted")
	ErrAlreadyRedeemed     = errors.New("tally: coupon already redeemed")
	ErrExhausted           = errors.New("tally: coupon redemptions exhausted")
	ErrInvalidCode         = errors.New("tally: invalid coupon code")
	ErrInvalidDiscount     = errors.New("tally: invalid coupon discount")
	ErrCodeTaken           = errors.New("tally: coupon code already exists")
)

// Validate checks the static fields of a new or updated coupon.
func Validate(c *Coupon) error {
	if n := len(c.Code); n == 0 || n > MaxCodeLength {
		return fmt.Errorf("%w: length %d", ErrInvalidCode, n)
	}
	if c.DiscountBps < 1 || c.DiscountBps > types.BpsDenominator {
		return fmt.Errorf("%w: %d bps", ErrInvalidDiscount, c.DiscountBps)
	}
	if c.MaxTotalRedemptions < 0 {
		return fmt.Errorf("%w: negative max redemptions", ErrInvalidDiscount)
	}
	return nil
}

// Expired reports whether c has expired at now. A zero expiration never
// expires.
func (c *Coupon) Expired(now time.Time) bool {
	return !c.Expiration.IsZero() && now.After(c.Expiration)
}

// Exhausted reports whether c has no redemptions left.
func (c *Coupon) Exhausted() bool {
	return c.MaxTotalRedemptions > 0 && c.TotalRedemptions >= c.MaxTotalRedemptions
}

// CheckRedeemable runs the eligibility checks in order: active, not
// expired, initial-purchase-only, restricted access. hasAccess is only
// consulted for restricted coupons.
func CheckRedeemable(c *Coupon, now time.Time, initialPurchase, hasAccess bool) error {
	if c == nil {
		return ErrNotFound
	}
	if !c.IsActive {
		return ErrInactive
	}
	if c.Expired(now) {
		return ErrExpired
	}
	if c.IsInitialPurchaseOnly && !initialPurchase {
		return ErrInitialPurchaseOnly
	}
	if c.IsRestricted && !hasAccess {
		return ErrRestricted
	}
	return nil
}

// Apply returns amount reduced by the coupon's discount. A nil coupon
// leaves amount unchanged.
func (c *Coupon) Apply(amount int64) int64 {
	if c == nil {
		return amount
	}
	return amount - types.MulBps(amount, c.DiscountBps)
}
